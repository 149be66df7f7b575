package ml

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestPredictBatchCardinality(t *testing.T) {
	a := trainedArtifact(t)
	rows := featureRows(rarityTable(25))

	for _, n := range []int{0, 1, len(rows)} {
		predictions, err := a.PredictBatch(rows[:n])
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if predictions == nil || len(predictions) != n {
			t.Fatalf("n=%d: expected %d predictions, got %v", n, n, predictions)
		}
	}
}

func TestPredictBatchKeepsInputOrder(t *testing.T) {
	a := trainedArtifact(t)
	rows := featureRows(rarityTable(10))

	batch, err := a.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range rows {
		single, err := a.PredictBatch([]FeatureRow{row})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if single[0] != batch[i] {
			t.Fatalf("row %d: batch %+v differs from single %+v", i, batch[i], single[0])
		}
	}
}

func TestPredictBatchSchema(t *testing.T) {
	a := trainedArtifact(t)
	valid := FeatureRow{"level": 5, "health": 12, "energy": 20, "sanity": 40}

	tests := []struct {
		name string
		row  FeatureRow
	}{
		{name: "missing", row: FeatureRow{"level": 5, "health": 12, "energy": 20}},
		{name: "extra", row: FeatureRow{"level": 5, "health": 12, "energy": 20, "sanity": 40, "speed": 3}},
		{name: "renamed", row: FeatureRow{"level": 5, "health": 12, "energy": 20, "sanityy": 40}},
		{name: "nan", row: FeatureRow{"level": 5, "health": math.NaN(), "energy": 20, "sanity": 40}},
		{name: "inf", row: FeatureRow{"level": 5, "health": 12, "energy": math.Inf(1), "sanity": 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predictions, err := a.PredictBatch([]FeatureRow{valid, tt.row})
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("expected ErrSchema, got %v", err)
			}
			if predictions != nil {
				t.Fatalf("expected no partial results, got %v", predictions)
			}
			if !strings.Contains(err.Error(), "row 1") {
				t.Fatalf("expected error to name row 1, got %v", err)
			}
		})
	}
}

func TestPredictBatchConfidence(t *testing.T) {
	a := trainedArtifact(t)
	rows := featureRows(rarityTable(40))

	predictions, err := a.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vectors, err := a.Vectorize(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proba, err := a.classifier.PredictProba(vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	classes := a.Classes()
	for i, p := range predictions {
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Fatalf("row %d: confidence %v outside [0, 1]", i, p.Confidence)
		}
		best := 0.0
		for _, v := range proba[i] {
			best = math.Max(best, v)
		}
		if p.Confidence != best {
			t.Fatalf("row %d: confidence %v, max probability %v", i, p.Confidence, best)
		}
		found := false
		for k, class := range classes {
			if class == p.Label && proba[i][k] == best {
				found = true
			}
		}
		if !found {
			t.Fatalf("row %d: label %s is not a most probable class", i, p.Label)
		}
	}
}

func TestNewArtifactFeatureMismatch(t *testing.T) {
	a := trainedArtifact(t)
	_, err := NewArtifact(a.classifier, []string{"level", "health"}, a.Metadata())
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestMetadataString(t *testing.T) {
	meta := Metadata{
		ModelName:     ModelName,
		TrainCount:    800,
		TotalCount:    1000,
		BaselineScore: 1.0 / 6,
		TrainScore:    0.9512,
		TestScore:     0.8749,
		Timestamp:     "2024-03-09 14:05:07",
	}
	want := strings.Join([]string{
		"Model Name: Random Forest Classifier",
		"Train/Total Count: 800/1000",
		"Baseline Score: 16.7%",
		"Training Score: 95.1%",
		"Testing Score: 87.5%",
		"Timestamp: 2024-03-09 14:05:07",
	}, "\n")
	if got := meta.String(); got != want {
		t.Fatalf("unexpected report:\n%s", got)
	}
}
