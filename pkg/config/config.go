// Package config provides configuration structures and loading logic for
// the analysis pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/logging"
	"github.com/kapstat/kapstat/pkg/quality"
	"github.com/kapstat/kapstat/pkg/stats"
)

// Config holds the global configuration for an analysis run.
type Config struct {
	Dataset domain.Schema `yaml:"dataset"`

	Scoring   ScoringConfig   `yaml:"scoring"`
	Quality   QualityConfig   `yaml:"quality"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Charts    ChartsConfig    `yaml:"charts"`
	Report    ReportConfig    `yaml:"report"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ScoringConfig overrides the built-in answer key. Correct maps an item
// column to the response codes that earn its point.
type ScoringConfig struct {
	Correct map[string][]float64 `yaml:"correct"`
}

// QualityConfig holds the validation rules and the optional Rego policy
// evaluated against each record. Empty rules fall back to bounds derived
// from the column names.
type QualityConfig struct {
	Rules      []quality.Rule `yaml:"rules"`
	Policy     string         `yaml:"policy"`
	Entrypoint string         `yaml:"entrypoint"`
}

// AnalysisConfig tunes the statistical stage.
type AnalysisConfig struct {
	Alpha                float64  `yaml:"alpha"`
	CorrelationVariables []string `yaml:"correlation_variables"`
	MinCompleteRows      int      `yaml:"min_complete_rows"`
	OutlierThreshold     float64  `yaml:"outlier_threshold"`
}

// ChartsConfig controls figure rendering.
type ChartsConfig struct {
	DPI                  int  `yaml:"dpi"`
	DisableEducationBars bool `yaml:"disable_education_bars"`
	DisableDistributions bool `yaml:"disable_distributions"`
	DisableBoxplots      bool `yaml:"disable_boxplots"`
	DisableScatterMatrix bool `yaml:"disable_scatter_matrix"`
}

// ReportConfig selects the report formats to emit.
type ReportConfig struct {
	Formats []string `yaml:"formats"`
}

// TelemetryConfig holds configuration for OpenTelemetry and the run
// metrics file.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	MetricsFile  string `yaml:"metrics_file"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Dataset: domain.DefaultSchema(),
		Analysis: AnalysisConfig{
			Alpha:            stats.DefaultAlpha,
			MinCompleteRows:  2,
			OutlierThreshold: stats.DefaultOutlierThreshold,
		},
		Charts: ChartsConfig{
			DPI: 300,
		},
		Report: ReportConfig{
			Formats: []string{"txt", "md"},
		},
		Telemetry: TelemetryConfig{
			MetricsFile: "metrics.prom",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("KAPSTAT_QUALITY_POLICY"); val != "" {
		cfg.Quality.Policy = val
	}

	if val := os.Getenv("KAPSTAT_ALPHA"); val != "" {
		if alpha, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Analysis.Alpha = alpha
		}
	}
	if val := os.Getenv("KAPSTAT_CHARTS_DPI"); val != "" {
		if dpi, err := strconv.Atoi(val); err == nil {
			cfg.Charts.DPI = dpi
		}
	}

	if val := os.Getenv("KAPSTAT_REPORT_FORMATS"); val != "" {
		// Comma-separated list, e.g. "txt,md"
		parts := strings.Split(val, ",")
		formats := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				formats = append(formats, part)
			}
		}
		if len(formats) > 0 {
			cfg.Report.Formats = formats
		}
	}

	if val := os.Getenv("KAPSTAT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("KAPSTAT_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("KAPSTAT_METRICS_FILE"); val != "" {
		cfg.Telemetry.MetricsFile = val
	}
	if val := os.Getenv("KAPSTAT_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("KAPSTAT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("KAPSTAT_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset configuration: %w", err)
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring configuration: %w", err)
	}

	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality configuration: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis configuration: %w", err)
	}

	if err := c.Charts.Validate(); err != nil {
		return fmt.Errorf("charts configuration: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of scoring overrides
func (c *ScoringConfig) Validate() error {
	for col, set := range c.Correct {
		if strings.TrimSpace(col) == "" {
			return errors.New("override with empty item column name")
		}
		if len(set) == 0 {
			return fmt.Errorf("empty correct-response set for item %q", col)
		}
	}
	return nil
}

// Validate performs validation of quality rules
func (c *QualityConfig) Validate() error {
	for i, rule := range c.Rules {
		if strings.TrimSpace(rule.Column) == "" {
			return fmt.Errorf("rule %d has no column name", i)
		}
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			return fmt.Errorf("rule %d for %q: min %v above max %v", i, rule.Column, *rule.Min, *rule.Max)
		}
	}
	return nil
}

// Validate performs validation of the statistical knobs
func (c *AnalysisConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha %v outside (0, 1)", c.Alpha)
	}
	if c.MinCompleteRows < 2 {
		return fmt.Errorf("min_complete_rows %d, need at least 2", c.MinCompleteRows)
	}
	if c.OutlierThreshold <= 0 {
		return fmt.Errorf("outlier_threshold %v must be positive", c.OutlierThreshold)
	}
	return nil
}

// Validate performs validation of chart options
func (c *ChartsConfig) Validate() error {
	if c.DPI <= 0 {
		return fmt.Errorf("dpi %d must be positive", c.DPI)
	}
	return nil
}

// Validate performs validation of report formats, normalizing case and
// dropping duplicates
func (c *ReportConfig) Validate() error {
	// Restore the default when the file cleared the list
	if len(c.Formats) == 0 {
		c.Formats = []string{"txt", "md"}
	}

	seen := make(map[string]bool, len(c.Formats))
	normalized := make([]string, 0, len(c.Formats))
	for _, f := range c.Formats {
		format := strings.TrimSpace(strings.ToLower(f))
		switch format {
		case "txt", "md":
		default:
			return fmt.Errorf("unknown report format %q, supported formats: txt, md", f)
		}
		if !seen[format] {
			seen[format] = true
			normalized = append(normalized, format)
		}
	}
	c.Formats = normalized
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.MetricsFile) == "" {
		c.MetricsFile = "metrics.prom"
	}
	// Basic validation - OTLP endpoint format could be validated more strictly
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	if strings.TrimSpace(c.Format) == "" {
		c.Format = "text"
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "text", "json":
		c.Format = format
		return nil
	default:
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}
}

// StatsConfig converts the analysis section to the statistics stage
// configuration.
func (c AnalysisConfig) StatsConfig() stats.Config {
	return stats.Config{
		Alpha:                c.Alpha,
		CorrelationVariables: c.CorrelationVariables,
		MinCorrelationRows:   c.MinCompleteRows,
		OutlierThreshold:     c.OutlierThreshold,
	}
}

// LoggerConfig converts the logging section to the logger configuration.
func (c LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Level, Pretty: c.Format == "text"}
}
