package ml

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// TimestampLayout is the layout of Metadata.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Metadata describes how an artifact was trained.
type Metadata struct {
	ModelName     string  `json:"model_name"`
	TrainCount    int     `json:"train_count"`
	TotalCount    int     `json:"total_count"`
	BaselineScore float64 `json:"baseline_score"`
	TrainScore    float64 `json:"train_score"`
	TestScore     float64 `json:"test_score"`
	Timestamp     string  `json:"timestamp"`
}

// Info renders the metadata as the report shown by the CLI and the info
// endpoint.
func (m Metadata) Info() map[string]string {
	return map[string]string{
		"Model Name":        m.ModelName,
		"Train/Total Count": fmt.Sprintf("%d/%d", m.TrainCount, m.TotalCount),
		"Baseline Score":    percent(m.BaselineScore),
		"Training Score":    percent(m.TrainScore),
		"Testing Score":     percent(m.TestScore),
		"Timestamp":         m.Timestamp,
	}
}

// InfoKeys is the display order of the keys returned by Info.
func InfoKeys() []string {
	return []string{"Model Name", "Train/Total Count", "Baseline Score", "Training Score", "Testing Score", "Timestamp"}
}

func (m Metadata) String() string {
	info := m.Info()
	s := ""
	for i, key := range InfoKeys() {
		if i > 0 {
			s += "\n"
		}
		s += key + ": " + info[key]
	}
	return s
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Artifact bundles a fitted classifier with the feature order it was trained
// on and its training metadata. It is never modified after construction and
// may be shared between goroutines.
type Artifact struct {
	classifier Classifier
	features   []string
	metadata   Metadata
}

// NewArtifact wraps a fitted classifier.
func NewArtifact(classifier Classifier, features []string, metadata Metadata) (*Artifact, error) {
	if err := validateFeatureNames(features); err != nil {
		return nil, err
	}
	if len(classifier.Classes()) == 0 {
		return nil, ErrNotFitted
	}
	if classifier.NumFeatures() != len(features) {
		return nil, fmt.Errorf("%w: classifier has %d features, %d names given",
			ErrSchema, classifier.NumFeatures(), len(features))
	}
	return &Artifact{
		classifier: classifier,
		features:   append([]string(nil), features...),
		metadata:   metadata,
	}, nil
}

// Metadata returns the training metadata.
func (a *Artifact) Metadata() Metadata { return a.metadata }

// Features returns the feature names in model input order.
func (a *Artifact) Features() []string { return append([]string(nil), a.features...) }

// Classes returns the labels the classifier can predict.
func (a *Artifact) Classes() []string { return a.classifier.Classes() }

func (a *Artifact) Kind() string { return a.classifier.Kind() }

// Vectorize orders each row's values by the trained feature list. Rows must
// hold exactly the trained features.
func (a *Artifact) Vectorize(rows []FeatureRow) ([][]float64, error) {
	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vector, err := exactVector(row, a.features)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// PredictVectors scores vectors already produced by Vectorize.
func (a *Artifact) PredictVectors(vectors [][]float64) ([]Prediction, error) {
	predictions := make([]Prediction, len(vectors))
	if len(vectors) == 0 {
		return predictions, nil
	}
	proba, err := a.classifier.PredictProba(vectors)
	if err != nil {
		return nil, err
	}
	classes := a.classifier.Classes()
	for i, p := range proba {
		best := floats.MaxIdx(p)
		predictions[i] = Prediction{Label: classes[best], Confidence: p[best]}
	}
	return predictions, nil
}

// PredictBatch returns one prediction per row, in row order. The whole batch
// is rejected with ErrSchema if any row does not match the trained features.
func (a *Artifact) PredictBatch(rows []FeatureRow) ([]Prediction, error) {
	vectors, err := a.Vectorize(rows)
	if err != nil {
		return nil, err
	}
	return a.PredictVectors(vectors)
}
