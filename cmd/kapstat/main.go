// Package main is the entry point for the kapstat binary. It provides
// the CLI for analyzing, converting, validating, and watching
// knowledge-and-practice survey datasets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kapstat/kapstat/internal/checks"
	"github.com/kapstat/kapstat/pkg/config"
	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/logging"
	"github.com/kapstat/kapstat/pkg/output"
	"github.com/kapstat/kapstat/pkg/pipeline"
	"github.com/kapstat/kapstat/pkg/quality"
	"github.com/kapstat/kapstat/pkg/report"
	"github.com/kapstat/kapstat/pkg/scoring"
	"github.com/kapstat/kapstat/pkg/telemetry"
	"github.com/kapstat/kapstat/pkg/workbook"
)

// Build metadata, set via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env in the working directory may carry KAPSTAT_* overrides.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for kapstat.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kapstat",
		Short: "Survey analysis toolkit for menstrual hygiene KAP studies",
		Long: `kapstat analyzes knowledge-and-practice survey exports: composite
scoring, data quality assessment, statistics, charts, and reporting
in a single run.

Example:
  kapstat analyze survey.sav
  kapstat convert survey.csv --out exports
  kapstat validate output/analysis_20260815_120000/scored_dataset.csv
  kapstat watch incoming/ --debounce 5s`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newConvertCmd(),
		newValidateCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <dataset>",
		Short: "Run the full analysis pipeline on a survey dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	addAnalyzeFlags(cmd)
	return cmd
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <dataset>",
		Short: "Export the dataset as CSV, Excel workbook, and text summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}
	cmd.Flags().StringP("out", "o", "output", "Directory for the converted files")
	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <dataset>",
		Short: "Run consistency checks on a raw or scored dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().StringP("out", "o", "", "Write the verdicts to a report file")
	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Float64("age-min", 10, "Lower bound for the respondent age check")
	cmd.Flags().Float64("age-max", 19, "Upper bound for the respondent age check")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and analyze datasets as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	addAnalyzeFlags(cmd)
	cmd.Flags().Duration("debounce", 2*time.Second, "Quiet period before a changed file is analyzed")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kapstat %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "output", "Base directory for run folders")
	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "pretty", "Log format (pretty, json)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP gRPC collector for stage traces")
	cmd.Flags().String("metrics-file", "", "Metrics textfile name inside the run folder")
	cmd.Flags().String("quality-policy", "", "Rego policy file for record-level quality checks")
}

// runSetup resolves configuration and logging for the dataset commands.
// Precedence: defaults, then config file, then KAPSTAT_* environment,
// then explicitly set flags.
func runSetup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		v, _ := cmd.Flags().GetString("log-format")
		if v == "pretty" {
			v = "text"
		}
		cfg.Logging.Format = v
	}
	if cmd.Flags().Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint, _ = cmd.Flags().GetString("otlp-endpoint")
	}
	if cmd.Flags().Changed("metrics-file") {
		cfg.Telemetry.MetricsFile, _ = cmd.Flags().GetString("metrics-file")
	}
	if cmd.Flags().Changed("quality-policy") {
		cfg.Quality.Policy, _ = cmd.Flags().GetString("quality-policy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	logger := logging.NewLogger(cfg.Logging.LoggerConfig())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// outputDir resolves the output directory: explicit flag, then the
// KAPSTAT_OUTPUT_DIR environment, then the flag default.
func outputDir(cmd *cobra.Command) string {
	if cmd.Flags().Changed("out") {
		v, _ := cmd.Flags().GetString("out")
		return v
	}
	if v := os.Getenv("KAPSTAT_OUTPUT_DIR"); v != "" {
		return v
	}
	v, _ := cmd.Flags().GetString("out")
	return v
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// setupTracing dials the OTLP exporter when an endpoint is configured.
// Failures warn and leave the no-op provider in place.
func setupTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		Version:     version,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, logger, err := runSetup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()
	flush := setupTracing(ctx, cfg, logger)
	defer flush()

	res, err := pipeline.Run(ctx, pipeline.Options{
		DatasetPath: args[0],
		OutputDir:   outputDir(cmd),
		Config:      cfg,
		Logger:      logger,
		Console:     os.Stdout,
		Version:     version,
	})
	if err != nil {
		return reportRunError(err)
	}

	printRunSummary(res)
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, err := runSetup(cmd)
	if err != nil {
		return err
	}

	out := outputDir(cmd)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	color.Cyan("Converting %s", args[0])
	original, meta, err := dataset.Load(args[0])
	if err != nil {
		return reportRunError(err)
	}
	fmt.Printf("  %d records, %d columns (%s)\n", meta.Rows, meta.Columns, meta.Format)

	rules, err := scoring.RulesWithOverrides(cfg.Dataset, cfg.Scoring.Correct)
	if err != nil {
		return err
	}
	scored, _, err := scoring.NewScorer(cfg.Dataset, rules, logger).Score(original)
	if err != nil {
		return err
	}

	written, err := workbook.NewExporter(cfg.Dataset, logger).Export(out, original, scored)
	for _, path := range written {
		color.Green("  ✓ %s", path)
	}
	if err != nil {
		return reportRunError(err)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := runSetup(cmd)
	if err != nil {
		return err
	}

	t, _, err := dataset.Load(args[0])
	if err != nil {
		return reportRunError(err)
	}
	// Already-scored exports keep their derived columns; raw exports
	// are scored in memory so every check has something to audit.
	if !t.HasColumn(domain.ColTotalScore) {
		rules, err := scoring.RulesWithOverrides(cfg.Dataset, cfg.Scoring.Correct)
		if err != nil {
			return err
		}
		scored, _, err := scoring.NewScorer(cfg.Dataset, rules, logger).Score(t)
		if err != nil {
			return err
		}
		t = scored
	}

	ageMin, _ := cmd.Flags().GetFloat64("age-min")
	ageMax, _ := cmd.Flags().GetFloat64("age-max")
	results := checks.NewAuditor(cfg.Dataset, checks.Config{
		AgeMin:           ageMin,
		AgeMax:           ageMax,
		OutlierThreshold: cfg.Analysis.OutlierThreshold,
		Alpha:            cfg.Analysis.Alpha,
	}, logger).Run(t)

	color.Cyan("Consistency checks for %s", args[0])
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Check", "Status", "Details"})
	for _, r := range results {
		table.Append([]string{r.Name, r.Status, r.Details})
	}
	table.Render()

	if reportPath, _ := cmd.Flags().GetString("out"); reportPath != "" {
		if err := writeVerdictReport(reportPath, args[0], results); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", reportPath)
	}

	if checks.Failed(results) {
		return fmt.Errorf("%d consistency checks failed", failedCount(results))
	}
	color.Green("All consistency checks passed")
	return nil
}

func failedCount(results []checks.Result) int {
	n := 0
	for _, r := range results {
		if r.Status == checks.StatusFail {
			n++
		}
	}
	return n
}

// writeVerdictReport writes the check verdicts to a plain-text file so
// they can be archived next to the dataset.
func writeVerdictReport(path, source string, results []checks.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Consistency checks for %s\n", source)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	for _, r := range results {
		fmt.Fprintf(&b, "%-4s  %-22s  %s\n", r.Status, r.Name, r.Details)
	}
	fmt.Fprintf(&b, "\n%d checks, %d failed\n", len(results), failedCount(results))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write verdict report: %w", err)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := runSetup(cmd)
	if err != nil {
		return err
	}
	debounce, err := cmd.Flags().GetDuration("debounce")
	if err != nil {
		return fmt.Errorf("failed to get debounce flag: %w", err)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()
	flush := setupTracing(ctx, cfg, logger)
	defer flush()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(args[0]); err != nil {
		return fmt.Errorf("watch %s: %w", args[0], err)
	}

	logger.Info("watching for datasets",
		"dir", args[0],
		"debounce", debounce.String())
	color.Cyan("Watching %s (Ctrl-C to stop)", args[0])

	// One timer per path; a write during the quiet period re-arms it.
	// The timer hands the settled path back to this loop so runs stay
	// serialized.
	timers := make(map[string]*time.Timer)
	settled := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isDatasetFile(event.Name) {
				continue
			}
			if t, armed := timers[event.Name]; armed {
				t.Reset(debounce)
				continue
			}
			name := event.Name
			timers[name] = time.AfterFunc(debounce, func() {
				select {
				case settled <- name:
				case <-ctx.Done():
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)

		case path := <-settled:
			delete(timers, path)
			logger.Info("dataset settled, starting analysis", "path", path)
			res, err := pipeline.Run(ctx, pipeline.Options{
				DatasetPath: path,
				OutputDir:   outputDir(cmd),
				Config:      cfg,
				Logger:      logger,
				Console:     os.Stdout,
				Version:     version,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				color.Red("Analysis of %s failed: %v", filepath.Base(path), err)
				continue
			}
			color.Green("✓ %s analyzed into %s", filepath.Base(path), res.RunDir)
		}
	}
}

// isDatasetFile reports whether a path has one of the ingestible
// dataset extensions.
func isDatasetFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".sas7bdat", ".dta":
		return true
	}
	return false
}

// reportRunError prints a dedicated console hint for the common abort
// causes before handing the error back to cobra.
func reportRunError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDatasetNotFound):
		color.Red("Dataset not found. Check the file path.")
	case errors.Is(err, domain.ErrDatasetPermission):
		color.Red("Dataset not readable. Check the file permissions.")
	}
	return err
}

// printRunSummary renders the end-of-run block: record count, run
// folder, and the key artifacts.
func printRunSummary(res *pipeline.Result) {
	fmt.Println()
	color.Green("Analysis complete: %d records, %d files", res.Records, len(res.Files))
	fmt.Printf("Run folder: %s\n\n", res.RunDir)

	desc := pipeline.ArtifactDescriptions()
	keyFiles := []string{
		pipeline.ScoredDatasetFile,
		quality.SummaryFile,
		report.TXTFile,
		report.MDFile,
		output.InventoryFile,
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"File", "Description"})
	for _, name := range keyFiles {
		for _, written := range res.Files {
			if written == name {
				table.Append([]string{name, desc[name]})
				break
			}
		}
	}
	table.Render()
}
