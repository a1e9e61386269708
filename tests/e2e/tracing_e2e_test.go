package e2e

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapstat/kapstat/pkg/config"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/pipeline"
	"github.com/kapstat/kapstat/pkg/telemetry"
)

// writeSurveyCSV writes a five-respondent fixture with enough signal in
// the education split that every pipeline stage does real work.
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

	lowK := []string{"1", "1", "1", "1", "1", "5", "4", "2", "1"}
	lowK2 := []string{"1", "1", "1", "1", "1", "5", "4", "1", "1"}
	highK := []string{"2", "2", "3", "4", "3", "1", "1", "1", "2"}
	highK2 := []string{"1", "2", "3", "4", "3", "1", "1", "1", "2"}
	lowP := []string{"5", "2", "2", "4", "2", "2", "2"}
	lowP2 := []string{"5", "2", "2", "4", "1", "2", "2"}
	highP := []string{"1", "1", "1", "1", "1", "1", "1"}
	highP2 := []string{"1", "2", "1", "1", "1", "1", "1"}

	respondent := func(demo []string, k, p []string) []string {
		row := append([]string{}, demo...)
		row = append(row, k...)
		return append(row, p...)
	}
	records := [][]string{
		header,
		respondent([]string{"12", "Primary", "Primary", "Housewife", "Farmer", "9000", "1", "2"}, lowK, lowP),
		respondent([]string{"13", "Primary", "Secondary", "Housewife", "Labourer", "10000", "2", "2"}, lowK2, lowP2),
		respondent([]string{"14", "Secondary", "Secondary", "Teacher", "Service", "15000", "1", "1"}, highK, highP),
		respondent([]string{"15", "Secondary", "Primary", "Housewife", "Service", "14000", "1", "2"}, highK2, highP),
		respondent([]string{"14", "Secondary", "Secondary", "Teacher", "Business", "16000", "2", "1"}, highK, highP2),
	}

	path := filepath.Join(t.TempDir(), "survey.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(records))
	require.NoError(t, f.Close())
	return path
}

func TestAnalysisExportsStageSpans(t *testing.T) {
	collector, addr := startSpanCollector(t)

	ctx := context.Background()
	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		Version:  "e2e",
		Endpoint: addr,
		Insecure: true,
	})
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	_, err = pipeline.Run(ctx, pipeline.Options{
		DatasetPath: writeSurveyCSV(t),
		OutputDir:   t.TempDir(),
		Config:      cfg,
		Console:     io.Discard,
		Version:     "e2e",
	})
	require.NoError(t, err)

	// Shutting the provider down flushes every buffered span.
	require.NoError(t, shutdown(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	spans := collector.WaitFor(waitCtx, pipeline.NumStages+1)

	var runSpans, stageSpans int
	stagesSeen := make(map[string]bool)
	for _, span := range spans {
		switch span.GetName() {
		case "pipeline.run":
			runSpans++
		case "pipeline.stage":
			stageSpans++
			for _, attr := range span.GetAttributes() {
				if attr.GetKey() == "stage.name" {
					stagesSeen[attr.GetValue().GetStringValue()] = true
				}
			}
		}
	}

	assert.Equal(t, 1, runSpans, "expected a single root span")
	assert.Equal(t, pipeline.NumStages, stageSpans)
	for _, stage := range []string{"output", "load", "scoring", "quality", "statistics", "charts", "report"} {
		assert.True(t, stagesSeen[stage], "no span recorded for stage %s", stage)
	}
}
