// Package pipeline orchestrates the seven-stage survey analysis run:
// output folder, dataset load, scoring, data quality, statistics,
// charts, and report. The load, scoring, statistics, and report stages
// abort the run; quality, charts, and the file inventory degrade to
// warnings and partial results.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kapstat/kapstat/pkg/charts"
	"github.com/kapstat/kapstat/pkg/config"
	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/logging"
	"github.com/kapstat/kapstat/pkg/output"
	"github.com/kapstat/kapstat/pkg/quality"
	"github.com/kapstat/kapstat/pkg/report"
	"github.com/kapstat/kapstat/pkg/scoring"
	"github.com/kapstat/kapstat/pkg/stats"
	"github.com/kapstat/kapstat/pkg/telemetry"
)

// NumStages is the number of pipeline stages shown on the console.
const NumStages = 7

// Analysis artifact names inside a run folder. Chart, quality, report,
// and inventory names live with their packages.
const (
	ScoredDatasetFile     = "scored_dataset.csv"
	EducationSummaryFile  = "maternal_education_summary.csv"
	ContinuousSummaryFile = "demographic_continuous_summary.csv"
	EducationCrossTabFile = "demographic_education_crosstab.csv"
	CorrelationMatrixFile = "correlation_matrix.csv"
)

var stageBanner = color.New(color.FgCyan, color.Bold)

// Options configures one analysis run.
type Options struct {
	// DatasetPath is the survey export to analyze.
	DatasetPath string
	// OutputDir is the base directory the run folder is created under.
	// Empty means "output".
	OutputDir string
	// Config supplies the run configuration; nil loads the defaults.
	Config *config.Config
	// Logger receives the run log; the pipeline tees it into the run
	// folder's analysis.log once the folder exists. Nil discards.
	Logger *slog.Logger
	// Console receives the stage banners and progress lines. Nil
	// discards.
	Console io.Writer
	// Version is the tool version stamped into the report and metrics.
	Version string

	// RunID overrides the generated run identifier.
	RunID string
}

// Result reports what a finished run produced.
type Result struct {
	RunID      string
	RunDir     string
	Records    int
	Files      []string
	Scoring    *scoring.Result
	Quality    *quality.Report
	Comparison *stats.Comparison
}

type stage struct {
	name  string
	title string
	fatal bool
	fn    func(context.Context) error
}

type run struct {
	opts    Options
	cfg     *config.Config
	logger  *slog.Logger
	console io.Writer
	metrics *telemetry.RunMetrics
	tracer  trace.Tracer

	id         string
	dir        string
	logFile    *os.File
	stageStart time.Time

	table    *dataset.Table
	scoreRes *scoring.Result
	quality  *quality.Report
	demo     *stats.Demographics
	cmp      *stats.Comparison
	corr     *stats.Matrix
	files    []string
	desc     map[string]string
}

// Run executes the full analysis pipeline and returns the run result.
// A fatal stage failure is returned as a *domain.StageError; warn-only
// stages log and leave their artifacts out of the result.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		opts.Config = cfg
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	r := &run{
		opts:    opts,
		cfg:     opts.Config,
		logger:  opts.Logger,
		console: opts.Console,
		metrics: telemetry.NewRunMetrics(),
		tracer:  otel.Tracer("kapstat.pipeline"),
		id:      opts.RunID,
		desc:    ArtifactDescriptions(),
	}
	r.metrics.SetRunInfo(r.id, opts.Version)
	r.desc[r.cfg.Telemetry.MetricsFile] = "Prometheus metrics snapshot of the run"
	defer r.close()

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("dataset.path", opts.DatasetPath),
	))
	defer span.End()

	r.logger.Info("analysis run starting",
		"run_id", r.id,
		"dataset", opts.DatasetPath,
		"version", opts.Version)

	stages := []stage{
		{"output", "Preparing output folder", true, r.stageOutput},
		{"load", "Loading dataset", true, r.stageLoad},
		{"scoring", "Scoring dataset", true, r.stageScoring},
		{"quality", "Assessing data quality", false, r.stageQuality},
		{"statistics", "Running statistical analysis", true, r.stageStats},
		{"charts", "Rendering charts", false, r.stageCharts},
		{"report", "Writing report and metrics", true, r.stageReport},
	}

	for i, st := range stages {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", "before_stage", st.name)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		stageBanner.Fprintf(r.console, "[%d/%d] %s\n", idx, NumStages, st.title)
		r.logger.Info("stage starting", "stage", st.name, "index", idx)

		stageCtx, stageSpan := r.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
			attribute.String("stage.name", st.name),
			attribute.Int("stage.index", idx),
		))
		r.stageStart = time.Now()
		err := st.fn(stageCtx)
		r.metrics.ObserveStage(st.name, time.Since(r.stageStart))
		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
			stageSpan.End()
			if st.fatal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				r.logger.Error("stage failed", "stage", st.name, "index", idx, "error", err)
				return nil, domain.NewStageError(idx, st.name, true, err)
			}
			r.logger.Warn("stage degraded, continuing", "stage", st.name, "index", idx, "error", err)
			continue
		}
		stageSpan.End()
	}

	r.logger.Info("analysis run complete",
		"run_id", r.id,
		"folder", r.dir,
		"files", len(r.files))

	return &Result{
		RunID:      r.id,
		RunDir:     r.dir,
		Records:    r.table.NumRows(),
		Files:      r.files,
		Scoring:    r.scoreRes,
		Quality:    r.quality,
		Comparison: r.cmp,
	}, nil
}

func (r *run) close() {
	if r.logFile != nil {
		r.logFile.Close()
	}
}

func (r *run) addFile(name string) {
	r.files = append(r.files, name)
}

func (r *run) stageOutput(ctx context.Context) error {
	dir, err := output.CreateRunFolder(r.opts.OutputDir)
	if err != nil {
		return err
	}
	r.dir = dir

	logFile, err := output.OpenLog(dir)
	if err != nil {
		return err
	}
	r.logFile = logFile
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	r.logger = slog.New(logging.NewTeeHandler(r.logger.Handler(), fileHandler))
	r.addFile(output.LogFile)

	r.logger.Info("run folder created", "folder", dir, "run_id", r.id)
	fmt.Fprintf(r.console, "      %s\n", dir)
	return nil
}

func (r *run) stageLoad(ctx context.Context) error {
	t, meta, err := dataset.Load(r.opts.DatasetPath)
	if err != nil {
		return err
	}
	r.table = t

	sum := dataset.Summarize(t)
	r.metrics.AddRecords(sum.RowCount)
	r.logger.Info("dataset loaded",
		"format", meta.Format,
		"rows", sum.RowCount,
		"columns", sum.ColumnCount,
		"missing_cells", sum.TotalMissing())
	fmt.Fprintf(r.console, "      %d records, %d columns (%s)\n", sum.RowCount, sum.ColumnCount, meta.Format)
	return nil
}

func (r *run) stageScoring(ctx context.Context) error {
	rules, err := scoring.RulesWithOverrides(r.cfg.Dataset, r.cfg.Scoring.Correct)
	if err != nil {
		return err
	}
	scored, res, err := scoring.NewScorer(r.cfg.Dataset, rules, r.logger).Score(r.table)
	if err != nil {
		return err
	}
	r.table, r.scoreRes = scored, res

	if err := output.WriteTableCSV(filepath.Join(r.dir, ScoredDatasetFile), scored); err != nil {
		return err
	}
	r.addFile(ScoredDatasetFile)

	r.logger.Info("dataset scored",
		"records", res.Records,
		"knowledge_items", res.KnowledgeItemsFound,
		"practice_items", res.PracticeItemsFound)
	fmt.Fprintf(r.console, "      %d records scored (%d/%d knowledge items, %d/%d practice items)\n",
		res.Records,
		res.KnowledgeItemsFound, domain.KnowledgeScoreMax,
		res.PracticeItemsFound, domain.PracticeScoreMax)
	return nil
}

func (r *run) stageQuality(ctx context.Context) error {
	var policy *quality.PolicyEvaluator
	if r.cfg.Quality.Policy != "" {
		p, err := quality.LoadPolicyEvaluator(ctx, r.cfg.Quality.Policy, r.cfg.Quality.Entrypoint, r.logger)
		if err != nil {
			return err
		}
		policy = p
	}

	rules := r.cfg.Quality.Rules
	if len(rules) == 0 {
		rules = quality.DefaultRules(r.table)
	}
	rep := quality.NewChecker(rules, policy, r.logger).Assess(ctx, r.table)
	r.quality = rep
	r.metrics.AddMissingValues(rep.Summary.MissingCount)
	r.metrics.AddInvalidValues(rep.Summary.InvalidCount)

	if err := quality.WriteFindingsCSV(filepath.Join(r.dir, quality.MissingValuesFile), rep.Missing); err != nil {
		return err
	}
	r.addFile(quality.MissingValuesFile)

	invalid := make([]quality.Finding, 0, len(rep.Invalid)+len(rep.Policy))
	invalid = append(invalid, rep.Invalid...)
	invalid = append(invalid, rep.Policy...)
	quality.SortFindings(invalid)
	if err := quality.WriteFindingsCSV(filepath.Join(r.dir, quality.InvalidValuesFile), invalid); err != nil {
		return err
	}
	r.addFile(quality.InvalidValuesFile)

	if err := quality.WriteSummaryTXT(filepath.Join(r.dir, quality.SummaryFile), rep); err != nil {
		return err
	}
	r.addFile(quality.SummaryFile)

	s := rep.Summary
	fmt.Fprintf(r.console, "      %.2f%% data quality (%d missing, %d invalid, %d policy findings)\n",
		s.QualityPercentage, s.MissingCount, s.InvalidCount, s.PolicyCount)
	return nil
}

func (r *run) stageStats(ctx context.Context) error {
	analyzer := stats.NewAnalyzer(r.cfg.Dataset, r.cfg.Analysis.StatsConfig(), r.logger)
	r.cmp = analyzer.CompareEducation(r.table)
	r.demo = analyzer.DemographicSummaries(r.table)
	r.corr = analyzer.Correlations(r.table)

	if err := output.WriteComparisonCSV(filepath.Join(r.dir, EducationSummaryFile), r.cmp); err != nil {
		return err
	}
	r.addFile(EducationSummaryFile)

	for _, ft := range r.demo.Frequencies {
		name := fmt.Sprintf("demographic_%s.csv", ft.Name)
		if err := output.WriteFrequencyCSV(filepath.Join(r.dir, name), ft); err != nil {
			return err
		}
		r.addFile(name)
		r.desc[name] = fmt.Sprintf("Frequency distribution of %s", ft.Variable)
	}
	if len(r.demo.Continuous) > 0 {
		if err := output.WriteContinuousCSV(filepath.Join(r.dir, ContinuousSummaryFile), r.demo.Continuous); err != nil {
			return err
		}
		r.addFile(ContinuousSummaryFile)
	}
	if r.demo.EducationCrossTab != nil {
		if err := output.WriteCrossTabCSV(filepath.Join(r.dir, EducationCrossTabFile), r.demo.EducationCrossTab); err != nil {
			return err
		}
		r.addFile(EducationCrossTabFile)
	}

	if err := output.WriteMatrixCSV(filepath.Join(r.dir, CorrelationMatrixFile), r.corr); err != nil {
		return err
	}
	r.addFile(CorrelationMatrixFile)

	switch {
	case r.cmp.Tested():
		fmt.Fprintf(r.console, "      %s over %d education levels (knowledge p = %.4f)\n",
			r.cmp.Method, len(r.cmp.Groups), r.cmp.Knowledge.PValue)
	case !r.cmp.Empty():
		fmt.Fprintf(r.console, "      %d education levels, too few for a between-group test\n", len(r.cmp.Groups))
	default:
		fmt.Fprintln(r.console, "      education comparison skipped, no usable grouping")
	}
	return nil
}

func (r *run) stageCharts(ctx context.Context) error {
	renderer := charts.NewRenderer(r.cfg.Dataset, r.logger)
	renderer.DPI = r.cfg.Charts.DPI
	renderer.Skip = map[string]bool{
		charts.ScoresByEducationFile:  r.cfg.Charts.DisableEducationBars,
		charts.ScoreDistributionsFile: r.cfg.Charts.DisableDistributions,
		charts.ScoreBoxplotsFile:      r.cfg.Charts.DisableBoxplots,
		charts.ScatterMatrixFile:      r.cfg.Charts.DisableScatterMatrix,
	}

	written := renderer.RenderAll(r.table, r.cmp, r.dir)
	r.files = append(r.files, written...)
	r.metrics.AddChartsRendered(len(written))
	fmt.Fprintf(r.console, "      %d charts rendered\n", len(written))
	return nil
}

func (r *run) stageReport(ctx context.Context) error {
	in := report.Inputs{
		SourcePath:   r.opts.DatasetPath,
		RunID:        r.id,
		Version:      r.opts.Version,
		Table:        r.table,
		Demographics: r.demo,
		Comparison:   r.cmp,
		Correlations: r.corr,
	}
	txtPath, mdPath, err := report.NewGenerator(r.logger).Write(r.dir, in, r.cfg.Report.Formats...)
	if err != nil {
		return err
	}
	if txtPath != "" {
		r.addFile(report.TXTFile)
	}
	if mdPath != "" {
		r.addFile(report.MDFile)
	}

	// Record this stage's duration before the snapshot so the textfile
	// carries all seven stages; the run loop refreshes it afterwards.
	r.metrics.ObserveStage("report", time.Since(r.stageStart))
	metricsPath := filepath.Join(r.dir, r.cfg.Telemetry.MetricsFile)
	if err := r.metrics.WriteTextfile(metricsPath); err != nil {
		r.logger.Warn("metrics file not written", "path", metricsPath, "error", err)
	} else {
		r.addFile(r.cfg.Telemetry.MetricsFile)
	}

	if _, err := output.WriteInventory(r.dir, r.desc); err != nil {
		r.logger.Warn("file inventory not written", "error", err)
	} else {
		r.addFile(output.InventoryFile)
	}

	fmt.Fprintf(r.console, "      %d files in %s\n", len(r.files), r.dir)
	return nil
}

// ArtifactDescriptions maps the fixed artifact names to their
// FILE_INVENTORY.md descriptions. Per-table demographic exports and the
// metrics file are added while the run progresses; the CLI reuses the
// map for its key-files table.
func ArtifactDescriptions() map[string]string {
	return map[string]string{
		ScoredDatasetFile:     "Complete dataset with the derived family, income, and score columns",
		EducationSummaryFile:  "Score summaries by maternal education level",
		ContinuousSummaryFile: "Descriptive statistics for the continuous demographic variables",
		EducationCrossTabFile: "Maternal by paternal education cross-tabulation",
		CorrelationMatrixFile: "Pearson correlation matrix of the continuous variables",

		quality.MissingValuesFile: "Detailed report of missing values by row and column",
		quality.InvalidValuesFile: "Out-of-range, disallowed, and policy-flagged values",
		quality.SummaryFile:       "Data quality summary statistics",

		charts.ScoresByEducationFile:  "Bar chart of mean scores by maternal education level",
		charts.ScoreDistributionsFile: "Histograms of the knowledge and practice score distributions",
		charts.ScoreBoxplotsFile:      "Box plots of scores by maternal education level",
		charts.ScatterMatrixFile:      "Scatter plot matrix of the continuous variables",

		report.TXTFile: "Comprehensive analysis report (plain text)",
		report.MDFile:  "Comprehensive analysis report (Markdown)",
		output.LogFile: "Structured log of this analysis run",
	}
}
