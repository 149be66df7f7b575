package ml

import "errors"

var (
	// ErrSchema is returned when a row is missing a required column, carries
	// an unexpected one, or holds a non-finite value.
	ErrSchema = errors.New("schema mismatch")
	// ErrInsufficientData is returned when the table cannot be split into
	// stratified train and test subsets.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrCorruptArtifact is returned when a persisted artifact cannot be
	// decoded.
	ErrCorruptArtifact = errors.New("corrupt artifact")
	// ErrIO is returned when the artifact storage fails.
	ErrIO = errors.New("artifact io")
	// ErrNotFitted is returned when a classifier is used before Fit.
	ErrNotFitted = errors.New("model not trained")
)
