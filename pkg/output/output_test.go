package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func TestCreateRunFolderCollisionSuffix(t *testing.T) {
	base := t.TempDir()

	first, err := createRunFolder(base, fixedTime)
	if err != nil {
		t.Fatalf("first run folder: %v", err)
	}
	if filepath.Base(first) != "analysis_20260301_103000" {
		t.Fatalf("unexpected folder name %q", filepath.Base(first))
	}

	second, err := createRunFolder(base, fixedTime)
	if err != nil {
		t.Fatalf("second run folder: %v", err)
	}
	if filepath.Base(second) != "analysis_20260301_103000_2" {
		t.Fatalf("collision suffix missing, got %q", filepath.Base(second))
	}

	third, err := createRunFolder(base, fixedTime)
	if err != nil {
		t.Fatalf("third run folder: %v", err)
	}
	if filepath.Base(third) != "analysis_20260301_103000_3" {
		t.Fatalf("suffix should increment, got %q", filepath.Base(third))
	}

	for _, dir := range []string{first, second, third} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("run folder %s not created: %v", dir, err)
		}
	}
}

func TestCreateRunFolderCreatesParents(t *testing.T) {
	base := filepath.Join(t.TempDir(), "results", "batch")
	folder, err := createRunFolder(base, fixedTime)
	if err != nil {
		t.Fatalf("createRunFolder: %v", err)
	}
	if _, err := os.Stat(folder); err != nil {
		t.Fatalf("folder missing: %v", err)
	}
}

func TestTimestampedFilename(t *testing.T) {
	cases := map[string]string{
		"report.txt":     "report_20260301_103000.txt",
		"archive.tar.gz": "archive.tar_20260301_103000.gz",
		"logs":           "logs_20260301_103000",
	}
	for in, want := range cases {
		if got := timestampedFilename(in, fixedTime); got != want {
			t.Fatalf("timestampedFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenLogAppends(t *testing.T) {
	folder := t.TempDir()

	f, err := OpenLog(folder)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	if _, err := f.WriteString("first\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	f, err = OpenLog(folder)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString("second\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(filepath.Join(folder, LogFile))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Fatalf("log not appended, got %q", data)
	}
}

func TestWriteInventory(t *testing.T) {
	folder := t.TempDir()
	if err := os.WriteFile(filepath.Join(folder, "scored_dataset.csv"), []byte(strings.Repeat("a", 1024)), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "chart.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(folder, "nested"), 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}

	descriptions := map[string]string{
		"scored_dataset.csv": "Complete dataset with all calculated scores",
	}
	path, err := writeInventory(folder, descriptions, fixedTime)
	if err != nil {
		t.Fatalf("writeInventory: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read inventory: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"# Analysis Output File Inventory",
		"Generated: 2026-03-01 10:30:00",
		"Output Folder: " + folder,
		"### chart.png",
		"- **Description**: (no description)",
		"### scored_dataset.csv",
		"- **Size**: 1.00 KB",
		"- **Description**: Complete dataset with all calculated scores",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("inventory missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "### nested") {
		t.Fatalf("directories should be skipped")
	}

	// Entries sort by name, and a rerun must not list the inventory itself.
	if strings.Index(content, "### chart.png") > strings.Index(content, "### scored_dataset.csv") {
		t.Fatalf("inventory entries out of order:\n%s", content)
	}
	if _, err := writeInventory(folder, descriptions, fixedTime); err != nil {
		t.Fatalf("second writeInventory: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "### "+InventoryFile) {
		t.Fatalf("inventory listed itself")
	}
}
