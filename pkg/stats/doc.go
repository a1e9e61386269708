// Package stats computes the descriptive and inferential statistics for
// scored survey tables: per-variable summaries, frequency tables,
// between-group score comparisons across maternal education levels,
// correlation matrices, and the assumption checks behind them.
//
// The primitives in this package operate on plain float64 slices with
// explicit missing masks. The table-aware entry points in survey.go
// handle column resolution and listwise filtering before delegating to
// the primitives, so the pipeline never touches raw slices itself.
package stats
