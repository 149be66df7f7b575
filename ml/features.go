package ml

import (
	"fmt"
	"math"
	"sort"
)

// DefaultTarget is the column the rarity classifier predicts.
const DefaultTarget = "rarity"

// FeatureRow maps a feature name to its numeric value.
type FeatureRow map[string]float64

// Record is one row of a Table. Numeric columns live in Values, categorical
// columns (the target among them) in Labels.
type Record struct {
	Values FeatureRow
	Labels map[string]string
}

// Table is a sequence of labeled records in storage order.
type Table []Record

// Prediction is the predicted label for one row and the classifier's
// probability for that label.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DefaultFeatures returns the feature set the rarity classifier is trained on.
func DefaultFeatures() []string {
	return []string{"level", "health", "energy", "sanity"}
}

// Labels returns the target column of the table.
func (t Table) Labels(target string) ([]string, error) {
	labels := make([]string, len(t))
	for i, record := range t {
		label, ok := record.Labels[target]
		if !ok || label == "" {
			return nil, fmt.Errorf("%w: row %d has no %q", ErrSchema, i, target)
		}
		labels[i] = label
	}
	return labels, nil
}

// Matrix returns the feature columns of the table in the given order.
func (t Table) Matrix(features []string) ([][]float64, error) {
	matrix := make([][]float64, len(t))
	for i, record := range t {
		vector, err := featureVector(record.Values, features)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		matrix[i] = vector
	}
	return matrix, nil
}

// DistinctLabels returns the sorted set of values of the target column.
func DistinctLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	distinct := make([]string, 0)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		distinct = append(distinct, label)
	}
	sort.Strings(distinct)
	return distinct
}

func featureVector(row FeatureRow, features []string) ([]float64, error) {
	vector := make([]float64, len(features))
	for j, name := range features {
		value, ok := row[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing feature %q", ErrSchema, name)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: feature %q is not finite", ErrSchema, name)
		}
		vector[j] = value
	}
	return vector, nil
}

// exactVector is featureVector that also rejects columns outside the set.
func exactVector(row FeatureRow, features []string) ([]float64, error) {
	vector, err := featureVector(row, features)
	if err != nil {
		return nil, err
	}
	if len(row) != len(features) {
		return nil, fmt.Errorf("%w: unexpected features %v", ErrSchema, extraFeatures(row, features))
	}
	return vector, nil
}

func extraFeatures(row FeatureRow, features []string) []string {
	known := make(map[string]struct{}, len(features))
	for _, name := range features {
		known[name] = struct{}{}
	}
	extra := make([]string, 0)
	for name := range row {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}

func validateFeatureNames(features []string) error {
	if len(features) == 0 {
		return fmt.Errorf("%w: no features", ErrSchema)
	}
	seen := make(map[string]struct{}, len(features))
	for _, name := range features {
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrSchema)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate feature %q", ErrSchema, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
