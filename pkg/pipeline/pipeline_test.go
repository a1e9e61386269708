package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapstat/kapstat/pkg/charts"
	"github.com/kapstat/kapstat/pkg/config"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/output"
	"github.com/kapstat/kapstat/pkg/quality"
	"github.com/kapstat/kapstat/pkg/report"
)

// writeSurveyCSV writes a six-respondent fixture with every schema
// column. Respondents 1-3 (Primary) answer mostly wrong, 4-6
// (Secondary) mostly right, so the education comparison has signal.
// Respondent 3 has a blank income cell.
func writeSurveyCSV(t *testing.T) string {
	t.Helper()
	s := domain.DefaultSchema()

	header := []string{
		s.Age, s.MaternalEducation, s.PaternalEducation,
		s.MaternalOccupation, s.PaternalOccupation,
		s.IncomePerMonth, s.MaleFamilyMembers, s.FemaleFamilyMembers,
	}
	header = append(header, s.KnowledgeItems...)
	header = append(header, s.PracticeItems...)

	lowK := []string{"1", "1", "1", "1", "1", "5", "4", "2", "1"}   // 2 points
	lowK2 := []string{"1", "1", "1", "1", "1", "5", "4", "1", "1"}  // 3 points
	highK := []string{"2", "2", "3", "4", "3", "1", "1", "1", "2"}  // 9 points
	highK2 := []string{"1", "2", "3", "4", "3", "1", "1", "1", "2"} // 8 points
	lowP := []string{"5", "2", "2", "4", "2", "2", "2"}             // 2 points
	lowP2 := []string{"5", "2", "2", "4", "1", "2", "2"}            // 3 points
	highP := []string{"1", "1", "1", "1", "1", "1", "1"}            // 7 points
	highP2 := []string{"1", "2", "1", "1", "1", "1", "1"}           // 6 points

	respondent := func(demo []string, k, p []string) []string {
		row := append([]string{}, demo...)
		row = append(row, k...)
		return append(row, p...)
	}
	records := [][]string{
		header,
		respondent([]string{"12", "Primary", "Primary", "Housewife", "Farmer", "9000", "2", "3"}, lowK, lowP),
		respondent([]string{"13", "Primary", "Secondary", "Housewife", "Labourer", "10000", "1", "2"}, lowK2, lowP2),
		respondent([]string{"12", "Primary", "Primary", "Housewife", "Farmer", "", "2", "2"}, lowK, lowP),
		respondent([]string{"14", "Secondary", "Secondary", "Teacher", "Service", "15000", "1", "1"}, highK, highP),
		respondent([]string{"15", "Secondary", "Primary", "Housewife", "Service", "14000", "2", "1"}, highK2, highP),
		respondent([]string{"14", "Secondary", "Secondary", "Teacher", "Business", "16000", "1", "2"}, highK, highP2),
	}

	path := filepath.Join(t.TempDir(), "survey.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(records))
	require.NoError(t, f.Close())
	return path
}

func TestRunProducesAllArtifacts(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var console bytes.Buffer
	res, err := Run(context.Background(), Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
		Config:      cfg,
		Console:     &console,
		Version:     "test",
		RunID:       "run-fixed",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "run-fixed", res.RunID)
	assert.Equal(t, 6, res.Records)
	require.DirExists(t, res.RunDir)

	for _, name := range []string{
		ScoredDatasetFile,
		EducationSummaryFile,
		ContinuousSummaryFile,
		EducationCrossTabFile,
		CorrelationMatrixFile,
		quality.MissingValuesFile,
		quality.InvalidValuesFile,
		quality.SummaryFile,
		charts.ScoresByEducationFile,
		charts.ScoreDistributionsFile,
		charts.ScoreBoxplotsFile,
		charts.ScatterMatrixFile,
		report.TXTFile,
		report.MDFile,
		output.LogFile,
		output.InventoryFile,
		cfg.Telemetry.MetricsFile,
	} {
		assert.Contains(t, res.Files, name)
		assert.FileExists(t, filepath.Join(res.RunDir, name))
	}

	require.NotNil(t, res.Scoring)
	assert.Equal(t, 9, res.Scoring.KnowledgeItemsFound)
	assert.Equal(t, 7, res.Scoring.PracticeItemsFound)
	assert.Equal(t, 1, res.Scoring.MissingIncomeCount)

	// The blank income cell plus its empty derived per-capita cell.
	require.NotNil(t, res.Quality)
	assert.Equal(t, 2, res.Quality.Summary.MissingCount)

	require.NotNil(t, res.Comparison)
	assert.True(t, res.Comparison.Tested())
	assert.Len(t, res.Comparison.Groups, 2)

	scored, err := os.ReadFile(filepath.Join(res.RunDir, ScoredDatasetFile))
	require.NoError(t, err)
	for _, col := range domain.DerivedColumns() {
		assert.Contains(t, string(scored), col)
	}

	metrics, err := os.ReadFile(filepath.Join(res.RunDir, cfg.Telemetry.MetricsFile))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "kapstat_records_total 6")
	for _, stage := range []string{"output", "load", "scoring", "quality", "statistics", "charts", "report"} {
		assert.Contains(t, string(metrics), `stage="`+stage+`"`)
	}
	assert.Contains(t, string(metrics), `run_id="run-fixed"`)

	logContent, err := os.ReadFile(filepath.Join(res.RunDir, output.LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(logContent), "dataset loaded")

	banner := console.String()
	assert.Contains(t, banner, "[1/7] Preparing output folder")
	assert.Contains(t, banner, "[7/7] Writing report and metrics")
}

func TestRunMissingDatasetAborts(t *testing.T) {
	res, err := Run(context.Background(), Options{
		DatasetPath: filepath.Join(t.TempDir(), "absent.csv"),
		OutputDir:   t.TempDir(),
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 2, stageErr.Index)
	assert.Equal(t, "load", stageErr.Stage)
	assert.True(t, stageErr.Fatal)
	assert.ErrorIs(t, err, domain.ErrDatasetNotFound)
}

func TestRunBadPolicyDegradesQuality(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	policyPath := filepath.Join(t.TempDir(), "quality.rego")
	require.NoError(t, os.WriteFile(policyPath, []byte("package quality\n\ndeny {"), 0o644))
	cfg.Quality.Policy = policyPath

	res, err := Run(context.Background(), Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
		Config:      cfg,
	})
	require.NoError(t, err)

	assert.Nil(t, res.Quality)
	assert.NotContains(t, res.Files, quality.SummaryFile)
	assert.Contains(t, res.Files, report.TXTFile)
	assert.FileExists(t, filepath.Join(res.RunDir, report.TXTFile))
}

func TestRunHonorsConfigToggles(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Charts.DisableEducationBars = true
	cfg.Charts.DisableDistributions = true
	cfg.Charts.DisableBoxplots = true
	cfg.Charts.DisableScatterMatrix = true
	cfg.Report.Formats = []string{"md"}

	res, err := Run(context.Background(), Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
		Config:      cfg,
	})
	require.NoError(t, err)

	for _, name := range res.Files {
		assert.False(t, strings.HasSuffix(name, ".png"), "unexpected chart %s", name)
	}
	assert.Contains(t, res.Files, report.MDFile)
	assert.NotContains(t, res.Files, report.TXTFile)
	assert.NoFileExists(t, filepath.Join(res.RunDir, report.TXTFile))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
	})
	assert.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunGeneratesRunID(t *testing.T) {
	res, err := Run(context.Background(), Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	rep, err := os.ReadFile(filepath.Join(res.RunDir, report.TXTFile))
	require.NoError(t, err)
	assert.Contains(t, string(rep), res.RunID)
}

func TestRunMissingDatasetStillWritesRunFolder(t *testing.T) {
	outDir := t.TempDir()
	_, err := Run(context.Background(), Options{
		DatasetPath: filepath.Join(t.TempDir(), "absent.csv"),
		OutputDir:   outDir,
	})
	require.Error(t, err)

	// Stage 1 succeeded, so the run folder and its log exist even
	// though the run aborted in stage 2.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.FileExists(t, filepath.Join(outDir, entries[0].Name(), output.LogFile))
}
