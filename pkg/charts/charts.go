// Package charts renders the survey figures as PNG files sized for
// print. Every chart resolves its own columns and skips with ErrSkipped
// when the data it needs is absent, so a sparse dataset degrades to
// fewer figures instead of a failed run.
package charts

import (
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/stats"
)

// Output file names, fixed so reports and inventories can refer to them.
const (
	ScoresByEducationFile  = "scores_by_maternal_education.png"
	ScoreDistributionsFile = "score_distributions.png"
	ScoreBoxplotsFile      = "score_boxplots.png"
	ScatterMatrixFile      = "scatter_matrix.png"
)

// ErrSkipped marks a chart that was not rendered because its inputs
// are absent or empty.
var ErrSkipped = errors.New("chart skipped")

var (
	knowledgeColor = color.RGBA{R: 0x34, G: 0x98, B: 0xdb, A: 0xff}
	practiceColor  = color.RGBA{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff}
	scatterColor   = color.RGBA{R: 0x2e, G: 0xcc, B: 0x71, A: 0xff}
	meanLineColor  = color.RGBA{R: 0xff, A: 0xff}
)

// barShift is the distance in axis units between a grouped bar and its
// category tick.
const barShift = 0.2

// Renderer draws the analysis charts for one survey table.
type Renderer struct {
	schema domain.Schema
	logger *slog.Logger

	// DPI overrides the print resolution; zero keeps the default.
	DPI int
	// Skip suppresses the named chart files (the *File constants).
	Skip map[string]bool
}

func NewRenderer(schema domain.Schema, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{schema: schema, logger: logger}
}

func (r *Renderer) dpi() int {
	if r.DPI > 0 {
		return r.DPI
	}
	return defaultDPI
}

// RenderAll writes every chart into dir and returns the names of the
// files created. Disabled, skipped, and failed charts are logged and
// left out of the result.
func (r *Renderer) RenderAll(t *dataset.Table, cmp *stats.Comparison, dir string) []string {
	var written []string
	charts := []struct {
		file   string
		render func(string) error
	}{
		{ScoresByEducationFile, func(p string) error { return r.ScoresByEducation(cmp, p) }},
		{ScoreDistributionsFile, func(p string) error { return r.ScoreDistributions(t, p) }},
		{ScoreBoxplotsFile, func(p string) error { return r.ScoreBoxplots(t, p) }},
		{ScatterMatrixFile, func(p string) error { return r.ScatterMatrix(t, p) }},
	}
	for _, c := range charts {
		if r.Skip[c.file] {
			r.logger.Info("chart disabled", "file", c.file)
			continue
		}
		err := c.render(filepath.Join(dir, c.file))
		switch {
		case err == nil:
			r.logger.Info("chart written", "file", c.file)
			written = append(written, c.file)
		case errors.Is(err, ErrSkipped):
			r.logger.Warn("chart skipped", "file", c.file, "reason", err)
		default:
			r.logger.Warn("chart failed", "file", c.file, "err", err)
		}
	}
	return written
}

// ScoresByEducation draws grouped bars of the mean knowledge and
// practice score per education level, with standard-deviation error
// bars.
func (r *Renderer) ScoresByEducation(cmp *stats.Comparison, path string) error {
	if cmp.Empty() {
		return fmt.Errorf("%w: no grouped scores to plot", ErrSkipped)
	}
	n := len(cmp.Groups)
	levels := make([]string, n)
	kMeans := make(plotter.Values, n)
	pMeans := make(plotter.Values, n)
	kPts := make(plotter.XYs, n)
	pPts := make(plotter.XYs, n)
	kErrs := make(plotter.YErrors, n)
	pErrs := make(plotter.YErrors, n)
	for i, g := range cmp.Groups {
		levels[i] = g.Level
		kMeans[i] = g.MeanKnowledge
		pMeans[i] = g.MeanPractice
		kPts[i] = plotter.XY{X: float64(i) - barShift, Y: g.MeanKnowledge}
		pPts[i] = plotter.XY{X: float64(i) + barShift, Y: g.MeanPractice}
		// Singleton groups have no spread; draw a zero-length bar
		// rather than poisoning the axis range with NaN.
		if s := g.StdKnowledge; !math.IsNaN(s) {
			kErrs[i].Low, kErrs[i].High = s, s
		}
		if s := g.StdPractice; !math.IsNaN(s) {
			pErrs[i].Low, pErrs[i].High = s, s
		}
	}

	p := plot.New()
	p.Title.Text = "Knowledge and Practice Scores by Maternal Education Level"
	p.X.Label.Text = "Maternal Education Level"
	p.Y.Label.Text = "Mean Score"

	kBars, err := plotter.NewBarChart(kMeans, vg.Points(18))
	if err != nil {
		return err
	}
	kBars.Color = knowledgeColor
	kBars.LineStyle.Width = vg.Length(0)
	kBars.XMin = -barShift

	pBars, err := plotter.NewBarChart(pMeans, vg.Points(18))
	if err != nil {
		return err
	}
	pBars.Color = practiceColor
	pBars.LineStyle.Width = vg.Length(0)
	pBars.XMin = barShift

	p.Add(kBars, pBars)
	p.Legend.Add("Knowledge Score", kBars)
	p.Legend.Add("Practice Score", pBars)
	p.Legend.Top = true

	kWhiskers, err := plotter.NewYErrorBars(errorPoints{XYs: kPts, YErrors: kErrs})
	if err != nil {
		return err
	}
	pWhiskers, err := plotter.NewYErrorBars(errorPoints{XYs: pPts, YErrors: pErrs})
	if err != nil {
		return err
	}
	p.Add(kWhiskers, pWhiskers)
	p.Add(plotter.NewGrid())

	p.NominalX(levels...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	return savePNG(path, r.dpi(), 10*vg.Inch, 6*vg.Inch, [][]*plot.Plot{{p}})
}

// errorPoints pairs bar positions with their error spans for
// plotter.NewYErrorBars.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// ScoreDistributions draws side-by-side frequency histograms of the
// knowledge and practice scores with a dashed line at each mean.
func (r *Renderer) ScoreDistributions(t *dataset.Table, path string) error {
	kCol, okK := t.Column(domain.ColKnowledgeScore)
	pCol, okP := t.Column(domain.ColPracticeScore)
	if !okK || !okP {
		return fmt.Errorf("%w: score columns not found", ErrSkipped)
	}
	kVals := observedFloats(kCol)
	pVals := observedFloats(pCol)
	if len(kVals) == 0 && len(pVals) == 0 {
		return fmt.Errorf("%w: no score values to plot", ErrSkipped)
	}
	kPanel := scoreHistogram("Distribution of Knowledge Scores", "Knowledge Score", kVals, domain.KnowledgeScoreMax, knowledgeColor)
	pPanel := scoreHistogram("Distribution of Practice Scores", "Practice Score", pVals, domain.PracticeScoreMax, practiceColor)
	return savePNG(path, r.dpi(), 12*vg.Inch, 5*vg.Inch, [][]*plot.Plot{{kPanel, pPanel}})
}

// scoreHistogram bins integer scores from zero to max inclusive. An
// empty value slice yields a bare titled panel.
func scoreHistogram(title, label string, values []float64, max int, fill color.Color) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = label
	p.Y.Label.Text = "Frequency"
	if len(values) == 0 {
		return p
	}

	counts := make(plotter.Values, max+1)
	for _, v := range values {
		i := int(math.Round(v))
		if i >= 0 && i <= max {
			counts[i]++
		}
	}
	bars, err := plotter.NewBarChart(counts, vg.Points(14))
	if err != nil {
		return p
	}
	bars.Color = fill
	bars.LineStyle.Color = color.Black
	bars.LineStyle.Width = vg.Points(0.5)
	p.Add(bars)
	p.Add(plotter.NewGrid())

	ticks := make([]string, max+1)
	for i := range ticks {
		ticks[i] = strconv.Itoa(i)
	}
	p.NominalX(ticks...)

	mean := meanOf(values)
	top := 0.0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	if line, err := plotter.NewLine(plotter.XYs{{X: mean, Y: 0}, {X: mean, Y: top}}); err == nil {
		line.Color = meanLineColor
		line.Width = vg.Points(2)
		line.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Mean: %.2f", mean), line)
		p.Legend.Top = true
	}
	return p
}

// ScoreBoxplots draws per-education-level box plots for the knowledge
// and practice scores as two panels.
func (r *Renderer) ScoreBoxplots(t *dataset.Table, path string) error {
	edCol, ok := stats.EducationColumn(t, r.schema)
	if !ok {
		return fmt.Errorf("%w: maternal education column not found", ErrSkipped)
	}
	kCol, okK := t.Column(domain.ColKnowledgeScore)
	pCol, okP := t.Column(domain.ColPracticeScore)
	if !okK || !okP {
		return fmt.Errorf("%w: score columns not found", ErrSkipped)
	}

	type pair struct{ knowledge, practice []float64 }
	groups := make(map[string]*pair)
	for i := 0; i < t.NumRows(); i++ {
		if edCol.IsMissing(i) {
			continue
		}
		kv, okKV := kCol.Float(i)
		pv, okPV := pCol.Float(i)
		if !okKV || !okPV {
			continue
		}
		level := edCol.Value(i)
		g := groups[level]
		if g == nil {
			g = &pair{}
			groups[level] = g
		}
		g.knowledge = append(g.knowledge, kv)
		g.practice = append(g.practice, pv)
	}
	if len(groups) == 0 {
		return fmt.Errorf("%w: no complete rows to plot", ErrSkipped)
	}

	levels := make([]string, 0, len(groups))
	for l := range groups {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return stats.LessLevel(levels[i], levels[j]) })

	kData := make([][]float64, len(levels))
	pData := make([][]float64, len(levels))
	for i, l := range levels {
		kData[i] = groups[l].knowledge
		pData[i] = groups[l].practice
	}

	kPanel, err := boxPanel("Knowledge Scores by Maternal Education", "Knowledge Score", levels, kData, knowledgeColor)
	if err != nil {
		return err
	}
	pPanel, err := boxPanel("Practice Scores by Maternal Education", "Practice Score", levels, pData, practiceColor)
	if err != nil {
		return err
	}
	return savePNG(path, r.dpi(), 14*vg.Inch, 6*vg.Inch, [][]*plot.Plot{{kPanel, pPanel}})
}

func boxPanel(title, yLabel string, levels []string, data [][]float64, fill color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Maternal Education Level"
	p.Y.Label.Text = yLabel
	for i, vals := range data {
		b, err := plotter.NewBoxPlot(vg.Points(24), float64(i), plotter.Values(vals))
		if err != nil {
			return nil, err
		}
		b.FillColor = fill
		p.Add(b)
	}
	p.Add(plotter.NewGrid())
	p.NominalX(levels...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	return p, nil
}

// ScatterMatrix draws the pairwise grid over the continuous variables:
// histograms on the diagonal, scatter plots off it, axis labels on the
// outer edge only.
func (r *Renderer) ScatterMatrix(t *dataset.Table, path string) error {
	specs := []struct {
		label      string
		configured string
		fallbacks  []string
	}{
		{"Age", r.schema.Age, []string{"age", "Age"}},
		{"Income", r.schema.IncomePerMonth, []string{"income_per_month", "Income_per_month", "IncomePerMonth"}},
		{"Family Size", domain.ColTotalFamilyMembers, []string{"Total_family_members", "TotalFamilyMembers"}},
		{"Per Capita Income", domain.ColPerCapitaIncome, []string{"Per_capita_income", "PerCapitaIncome"}},
		{"Knowledge Score", domain.ColKnowledgeScore, nil},
		{"Practice Score", domain.ColPracticeScore, nil},
	}

	var (
		labels []string
		data   [][]float64
		masks  [][]bool
	)
	for _, s := range specs {
		col, ok := stats.ResolveColumn(t, s.configured, s.fallbacks...)
		if !ok {
			continue
		}
		values, missing := stats.NumericValues(col)
		observed := 0
		for _, m := range missing {
			if !m {
				observed++
			}
		}
		if observed == 0 {
			continue
		}
		labels = append(labels, s.label)
		data = append(data, values)
		masks = append(masks, missing)
	}
	if len(labels) < 2 {
		return fmt.Errorf("%w: fewer than two continuous variables", ErrSkipped)
	}

	var rows []int
	for i := 0; i < t.NumRows(); i++ {
		complete := true
		for _, m := range masks {
			if m[i] {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}
	if len(rows) < 2 {
		return fmt.Errorf("%w: fewer than two complete rows", ErrSkipped)
	}

	series := make([][]float64, len(labels))
	for v := range labels {
		series[v] = make([]float64, len(rows))
		for k, i := range rows {
			series[v][k] = data[v][i]
		}
	}

	n := len(labels)
	grid := make([][]*plot.Plot, n)
	for i := 0; i < n; i++ {
		grid[i] = make([]*plot.Plot, n)
		for j := 0; j < n; j++ {
			p := plot.New()
			if i == j {
				if h, err := plotter.NewHist(plotter.Values(series[i]), 15); err == nil {
					h.FillColor = knowledgeColor
					p.Add(h)
				}
			} else {
				pts := make(plotter.XYs, len(rows))
				for k := range rows {
					pts[k] = plotter.XY{X: series[j][k], Y: series[i][k]}
				}
				if sc, err := plotter.NewScatter(pts); err == nil {
					sc.GlyphStyle.Color = scatterColor
					sc.GlyphStyle.Radius = vg.Points(2)
					sc.GlyphStyle.Shape = draw.CircleGlyph{}
					p.Add(sc)
				}
			}
			if i == n-1 {
				p.X.Label.Text = labels[j]
			} else {
				p.X.Tick.Marker = plot.ConstantTicks(nil)
			}
			if j == 0 {
				p.Y.Label.Text = labels[i]
			} else {
				p.Y.Tick.Marker = plot.ConstantTicks(nil)
			}
			grid[i][j] = p
		}
	}
	return savePNG(path, r.dpi(), 12*vg.Inch, 12*vg.Inch, grid)
}

func observedFloats(col *dataset.Column) []float64 {
	values, missing := stats.NumericValues(col)
	out := make([]float64, 0, len(values))
	for i, v := range values {
		if !missing[i] {
			out = append(out, v)
		}
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
