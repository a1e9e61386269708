// Package output manages the per-run artifact folder: creating it,
// exporting tables and matrices as CSV, opening the run log sink, and
// writing the closing file inventory.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Well-known run artifact names.
const (
	InventoryFile = "FILE_INVENTORY.md"
	LogFile       = "analysis.log"
)

const runFolderPrefix = "analysis_"

// CreateRunFolder creates a timestamped folder under base, with parents,
// and returns its path. When the name for the current second is taken,
// _2, _3, ... suffixes pick the first free one, so two runs started in
// the same second never share a folder.
func CreateRunFolder(base string) (string, error) {
	return createRunFolder(base, time.Now())
}

func createRunFolder(base string, ts time.Time) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create output base: %w", err)
	}
	name := runFolderPrefix + ts.Format("20060102_150405")
	for n := 1; n <= 1000; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		path := filepath.Join(base, candidate)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create run folder: %w", err)
		}
	}
	return "", fmt.Errorf("create run folder: no free name under %s", base)
}

// OpenLog opens the run's structured log file for appending.
func OpenLog(folder string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(folder, LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}

// TimestampedFilename appends a timestamp before the extension so
// repeated exports of the same artifact never overwrite each other.
func TimestampedFilename(name string) string {
	return timestampedFilename(name, time.Now())
}

func timestampedFilename(name string, ts time.Time) string {
	stamp := ts.Format("20060102_150405")
	if i := strings.LastIndex(name, "."); i > 0 {
		return fmt.Sprintf("%s_%s%s", name[:i], stamp, name[i:])
	}
	return fmt.Sprintf("%s_%s", name, stamp)
}

// WriteInventory lists every file present in folder as FILE_INVENTORY.md
// with its size and a description from the map, and returns the
// inventory path. The inventory itself and subdirectories are skipped;
// entries are sorted by name.
func WriteInventory(folder string, descriptions map[string]string) (string, error) {
	return writeInventory(folder, descriptions, time.Now())
}

func writeInventory(folder string, descriptions map[string]string, ts time.Time) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("read run folder: %w", err)
	}

	lines := []string{
		"# Analysis Output File Inventory",
		"",
		fmt.Sprintf("Generated: %s", ts.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Output Folder: %s", folder),
		"",
		"## Files",
		"",
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == InventoryFile {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		desc, ok := descriptions[entry.Name()]
		if !ok {
			desc = "(no description)"
		}
		lines = append(lines,
			fmt.Sprintf("### %s", entry.Name()),
			fmt.Sprintf("- **Size**: %.2f KB", float64(info.Size())/1024),
			fmt.Sprintf("- **Description**: %s", desc),
			"",
		)
	}

	path := filepath.Join(folder, InventoryFile)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write inventory: %w", err)
	}
	return path, nil
}
