// Package domain defines the core vocabulary shared across the analysis
// pipeline: the survey schema, sentinel errors, and stage identities.
//
// This package contains pure domain types with zero dependencies outside the
// Go standard library. Infrastructure packages (dataset, scoring, stats,
// quality, charts, report, pipeline) depend on these types; the dependency
// direction is never reversed.
package domain
