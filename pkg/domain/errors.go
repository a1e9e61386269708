package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrDatasetNotFound   = errors.New("dataset file not found")
	ErrDatasetPermission = errors.New("dataset file not readable")
	ErrDatasetFormat     = errors.New("unsupported dataset format")
	ErrColumnMissing     = errors.New("required column missing")
	ErrNoObservations    = errors.New("no usable observations")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrPolicyInvalid     = errors.New("invalid quality policy")
)

// StageError wraps a failure with the pipeline stage it occurred in.
// Fatal distinguishes stages that must abort the run (loading, scoring,
// statistics, report) from stages that degrade to warnings (quality,
// charts, inventory).
type StageError struct {
	Stage string
	Index int
	Fatal bool
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError for the given stage.
func NewStageError(index int, stage string, fatal bool, err error) *StageError {
	return &StageError{Stage: stage, Index: index, Fatal: fatal, Err: err}
}
