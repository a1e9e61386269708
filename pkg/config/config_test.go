package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapstat/kapstat/pkg/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Age", cfg.Dataset.Age)
	assert.Equal(t, "MotherEducation", cfg.Dataset.MaternalEducation)
	assert.Len(t, cfg.Dataset.KnowledgeItems, domain.KnowledgeScoreMax)
	assert.Len(t, cfg.Dataset.PracticeItems, domain.PracticeScoreMax)

	assert.Equal(t, 0.05, cfg.Analysis.Alpha)
	assert.Equal(t, 2, cfg.Analysis.MinCompleteRows)
	assert.Equal(t, 3.5, cfg.Analysis.OutlierThreshold)
	assert.Empty(t, cfg.Analysis.CorrelationVariables)

	assert.Equal(t, 300, cfg.Charts.DPI)
	assert.Equal(t, []string{"txt", "md"}, cfg.Report.Formats)
	assert.Equal(t, "metrics.prom", cfg.Telemetry.MetricsFile)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	configContent := `
dataset:
  age: "AgeYears"
  maternal_education: "MumEdu"

scoring:
  correct:
    RangeOfUsualAgeOfMenarche: [1, 2]

quality:
  policy: "policies/survey.rego"
  rules:
    - column: "AgeYears"
      min: 10
      max: 19
    - column: "MumEdu"
      values: [1, 2, 3, 4]

analysis:
  alpha: 0.01
  correlation_variables: ["AgeYears", "knowledge_score"]
  min_complete_rows: 5

charts:
  dpi: 150
  disable_scatter_matrix: true

report:
  formats: ["MD"]

telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  environment: "staging"

logging:
  level: "DEBUG"
  format: "json"
`
	cfg, err := Load(writeConfig(t, configContent))
	require.NoError(t, err)

	assert.Equal(t, "AgeYears", cfg.Dataset.Age)
	assert.Equal(t, "MumEdu", cfg.Dataset.MaternalEducation)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "FatherEducation", cfg.Dataset.PaternalEducation)
	assert.Len(t, cfg.Dataset.KnowledgeItems, domain.KnowledgeScoreMax)

	assert.Equal(t, []float64{1, 2}, cfg.Scoring.Correct["RangeOfUsualAgeOfMenarche"])

	assert.Equal(t, "policies/survey.rego", cfg.Quality.Policy)
	require.Len(t, cfg.Quality.Rules, 2)
	age := cfg.Quality.Rules[0]
	assert.Equal(t, "AgeYears", age.Column)
	require.NotNil(t, age.Min)
	require.NotNil(t, age.Max)
	assert.Equal(t, 10.0, *age.Min)
	assert.Equal(t, 19.0, *age.Max)
	assert.Equal(t, []float64{1, 2, 3, 4}, cfg.Quality.Rules[1].Allowed)

	assert.Equal(t, 0.01, cfg.Analysis.Alpha)
	assert.Equal(t, 5, cfg.Analysis.MinCompleteRows)
	assert.Equal(t, []string{"AgeYears", "knowledge_score"}, cfg.Analysis.CorrelationVariables)
	// The outlier threshold default survives a partial analysis section.
	assert.Equal(t, 3.5, cfg.Analysis.OutlierThreshold)

	assert.Equal(t, 150, cfg.Charts.DPI)
	assert.True(t, cfg.Charts.DisableScatterMatrix)
	assert.False(t, cfg.Charts.DisableBoxplots)

	assert.Equal(t, []string{"md"}, cfg.Report.Formats, "formats should be normalized")

	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "staging", cfg.Telemetry.Environment)

	assert.Equal(t, "debug", cfg.Logging.Level, "level should be normalized")
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	configContent := `
analysis:
  alpha: 0.10
telemetry:
  otlp_endpoint: "file-endpoint:4317"
logging:
  level: "warn"
`
	t.Setenv("KAPSTAT_ALPHA", "0.01")
	t.Setenv("KAPSTAT_OTLP_ENDPOINT", "env-endpoint:4317")
	t.Setenv("KAPSTAT_OTLP_INSECURE", "true")
	t.Setenv("KAPSTAT_REPORT_FORMATS", "txt, md , txt")
	t.Setenv("KAPSTAT_LOG_LEVEL", "debug")
	t.Setenv("KAPSTAT_METRICS_FILE", "run.prom")
	t.Setenv("KAPSTAT_ENVIRONMENT", "ci")
	t.Setenv("KAPSTAT_QUALITY_POLICY", "deny.rego")

	cfg, err := Load(writeConfig(t, configContent))
	require.NoError(t, err)

	assert.Equal(t, 0.01, cfg.Analysis.Alpha)
	assert.Equal(t, "env-endpoint:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "run.prom", cfg.Telemetry.MetricsFile)
	assert.Equal(t, "ci", cfg.Telemetry.Environment)
	assert.Equal(t, []string{"txt", "md"}, cfg.Report.Formats, "formats should be deduplicated")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "deny.rego", cfg.Quality.Policy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "dataset: [not, a, mapping"))
	require.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		section string
	}{
		{
			name: "truncated knowledge items",
			content: `
dataset:
  knowledge_items: ["OnlyOne"]
`,
			section: "dataset configuration",
		},
		{
			name: "duplicate item column",
			content: `
dataset:
  practice_items: ["A", "B", "C", "D", "E", "F", "A"]
`,
			section: "dataset configuration",
		},
		{
			name: "empty correct set",
			content: `
scoring:
  correct:
    SomeItem: []
`,
			section: "scoring configuration",
		},
		{
			name: "rule without column",
			content: `
quality:
  rules:
    - min: 0
`,
			section: "quality configuration",
		},
		{
			name: "inverted bounds",
			content: `
quality:
  rules:
    - column: "Age"
      min: 20
      max: 10
`,
			section: "quality configuration",
		},
		{
			name: "alpha out of range",
			content: `
analysis:
  alpha: 1.5
`,
			section: "analysis configuration",
		},
		{
			name: "negative dpi",
			content: `
charts:
  dpi: -72
`,
			section: "charts configuration",
		},
		{
			name: "unknown report format",
			content: `
report:
  formats: ["pdf"]
`,
			section: "report configuration",
		},
		{
			name: "bad log level",
			content: `
logging:
  level: "loud"
`,
			section: "logging configuration",
		},
		{
			name: "bad log format",
			content: `
logging:
  format: "xml"
`,
			section: "logging configuration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tc.section)
		})
	}
}

func TestAnalysisStatsConfig(t *testing.T) {
	section := AnalysisConfig{
		Alpha:                0.01,
		CorrelationVariables: []string{"age"},
		MinCompleteRows:      4,
		OutlierThreshold:     3,
	}
	sc := section.StatsConfig()
	assert.Equal(t, 0.01, sc.Alpha)
	assert.Equal(t, []string{"age"}, sc.CorrelationVariables)
	assert.Equal(t, 4, sc.MinCorrelationRows)
	assert.Equal(t, 3.0, sc.OutlierThreshold)
}

func TestLoggingLoggerConfig(t *testing.T) {
	text := LoggingConfig{Level: "debug", Format: "text"}.LoggerConfig()
	assert.Equal(t, "debug", text.Level)
	assert.True(t, text.Pretty)

	jsonCfg := LoggingConfig{Level: "info", Format: "json"}.LoggerConfig()
	assert.False(t, jsonCfg.Pretty)
}
