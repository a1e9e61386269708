package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapstat/kapstat/internal/checks"
	"github.com/kapstat/kapstat/pkg/domain"
)

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "kapstat", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	for _, name := range []string{"analyze", "convert", "validate", "watch", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.NotEqual(t, cmd, sub, "subcommand %s not registered", name)
	}
}

func TestAnalyzeFlags(t *testing.T) {
	cmd := newAnalyzeCmd()

	outFlag := cmd.Flags().Lookup("out")
	require.NotNil(t, outFlag)
	assert.Equal(t, "o", outFlag.Shorthand)
	assert.Equal(t, "output", outFlag.DefValue)

	configFlag := cmd.Flags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	logLevelFlag := cmd.Flags().Lookup("log-level")
	require.NotNil(t, logLevelFlag)
	assert.Equal(t, "l", logLevelFlag.Shorthand)
	assert.Equal(t, "info", logLevelFlag.DefValue)

	for _, name := range []string{"log-format", "otlp-endpoint", "metrics-file", "quality-policy"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "flag %s missing", name)
	}

	require.NotNil(t, newWatchCmd().Flags().Lookup("debounce"))
}

func TestRunSetup(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		flags       map[string]string
		expectError bool
		check       func(t *testing.T, level, format, policy, endpoint string)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, level, format, policy, endpoint string) {
				assert.Equal(t, "info", level)
				assert.Equal(t, "text", format)
				assert.Empty(t, policy)
				assert.Empty(t, endpoint)
			},
		},
		{
			name: "environment overrides defaults",
			env: map[string]string{
				"KAPSTAT_LOG_LEVEL":     "debug",
				"KAPSTAT_OTLP_ENDPOINT": "collector:4317",
			},
			check: func(t *testing.T, level, format, policy, endpoint string) {
				assert.Equal(t, "debug", level)
				assert.Equal(t, "collector:4317", endpoint)
			},
		},
		{
			name: "explicit flags beat environment",
			env: map[string]string{
				"KAPSTAT_LOG_LEVEL":     "warn",
				"KAPSTAT_OTLP_ENDPOINT": "env:4317",
			},
			flags: map[string]string{
				"log-level":      "error",
				"otlp-endpoint":  "flag:4317",
				"quality-policy": "deny.rego",
			},
			check: func(t *testing.T, level, format, policy, endpoint string) {
				assert.Equal(t, "error", level)
				assert.Equal(t, "flag:4317", endpoint)
				assert.Equal(t, "deny.rego", policy)
			},
		},
		{
			name:  "pretty format maps to text handler",
			flags: map[string]string{"log-format": "pretty"},
			check: func(t *testing.T, level, format, policy, endpoint string) {
				assert.Equal(t, "text", format)
			},
		},
		{
			name:  "json format passes through",
			flags: map[string]string{"log-format": "json"},
			check: func(t *testing.T, level, format, policy, endpoint string) {
				assert.Equal(t, "json", format)
			},
		},
		{
			name:        "invalid level rejected",
			flags:       map[string]string{"log-level": "verbose"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cmd := newAnalyzeCmd()
			for key, value := range tt.flags {
				require.NoError(t, cmd.Flags().Set(key, value))
			}

			cfg, logger, err := runSetup(cmd)
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfigInvalid)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			tt.check(t, cfg.Logging.Level, cfg.Logging.Format, cfg.Quality.Policy, cfg.Telemetry.OTLPEndpoint)
		})
	}
}

func TestOutputDir(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		flag     string
		expected string
	}{
		{name: "flag default", expected: "output"},
		{name: "environment", env: "env-dir", expected: "env-dir"},
		{name: "explicit flag beats environment", env: "env-dir", flag: "flag-dir", expected: "flag-dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("KAPSTAT_OUTPUT_DIR", tt.env)
			}

			cmd := newAnalyzeCmd()
			if tt.flag != "" {
				require.NoError(t, cmd.Flags().Set("out", tt.flag))
			}

			assert.Equal(t, tt.expected, outputDir(cmd))
		})
	}
}

func TestIsDatasetFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"survey.csv", true},
		{"SURVEY.CSV", true},
		{"export.sas7bdat", true},
		{"export.dta", true},
		{"notes.txt", false},
		{"survey.csv.tmp", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isDatasetFile(tt.path))
		})
	}
}

func TestReportRunError(t *testing.T) {
	notFound := fmt.Errorf("%w: survey.csv", domain.ErrDatasetNotFound)
	assert.ErrorIs(t, reportRunError(notFound), domain.ErrDatasetNotFound)

	// Unrecognized errors pass through unchanged.
	plain := errors.New("stage failed")
	assert.Equal(t, plain, reportRunError(plain))
}

func TestWriteVerdictReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdicts.txt")
	results := []checks.Result{
		{Name: "age_range", Status: checks.StatusPass, Details: "all ages inside [10, 19]"},
		{Name: "family_size", Status: checks.StatusFail, Details: "1 of 5 rows differ from male + female"},
	}
	require.NoError(t, writeVerdictReport(path, "survey.csv", results))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "survey.csv")
	assert.Contains(t, text, "age_range")
	assert.Contains(t, text, "FAIL")
	assert.Contains(t, text, "2 checks, 1 failed")

	assert.Equal(t, 1, failedCount(results))
}
