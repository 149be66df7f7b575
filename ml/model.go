package ml

import (
	"context"
	"encoding"
)

// Classifier is a fitted-or-fittable categorical model. Probability columns
// follow the order of Classes.
type Classifier interface {
	Fit(ctx context.Context, features [][]float64, labels []string) error
	Predict(features [][]float64) ([]string, error)
	PredictProba(features [][]float64) ([][]float64, error)
	Classes() []string
	NumFeatures() int
	// Kind names the implementation in persisted artifacts.
	Kind() string
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}
