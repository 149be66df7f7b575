package ml

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
)

func forestData(t *testing.T) ([][]float64, []string) {
	t.Helper()
	table := rarityTable(120)
	matrix, err := table.Matrix(DefaultFeatures())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels, err := table.Labels(DefaultTarget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return matrix, labels
}

func TestRandomForestProbabilities(t *testing.T) {
	features, labels := forestData(t)
	forest := NewRandomForest(DefaultForestConfig())
	if err := forest.Fit(context.Background(), features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forest.Trees() != 66 {
		t.Fatalf("expected 66 trees, got %d", forest.Trees())
	}

	proba, err := forest.PredictProba(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range proba {
		if len(p) != len(rarities) {
			t.Fatalf("row %d: expected %d classes, got %d", i, len(rarities), len(p))
		}
		sum := 0.0
		for _, v := range p {
			if v < 0 || v > 1 {
				t.Fatalf("row %d: probability %v outside [0, 1]", i, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d: probabilities sum to %v", i, sum)
		}
	}
}

func TestRandomForestTreesRespectMaxDepth(t *testing.T) {
	features, labels := forestData(t)
	config := DefaultForestConfig()
	config.MaxDepth = 3
	forest := NewRandomForest(config)
	if err := forest.Fit(context.Background(), features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, tree := range forest.trees {
		if depth := tree.depth(); depth > 3 {
			t.Fatalf("tree %d: depth %d exceeds 3", i, depth)
		}
	}
}

func TestRandomForestIndependentOfWorkers(t *testing.T) {
	features, labels := forestData(t)

	encoded := make([][]byte, 0, 2)
	for _, workers := range []int{1, 8} {
		config := DefaultForestConfig()
		config.Workers = workers
		forest := NewRandomForest(config)
		if err := forest.Fit(context.Background(), features, labels); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := forest.MarshalBinary()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		encoded = append(encoded, data)
	}
	if !bytes.Equal(encoded[0], encoded[1]) {
		t.Fatal("expected identical forests for 1 and 8 workers")
	}
}

func TestRandomForestProgress(t *testing.T) {
	features, labels := forestData(t)
	config := DefaultForestConfig()
	config.Trees = 5
	calls := 0
	last := 0
	config.Progress = func(done, total int) {
		calls++
		last = done
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}
	}
	forest := NewRandomForest(config)
	if err := forest.Fit(context.Background(), features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 5 || last != 5 {
		t.Fatalf("expected 5 progress calls ending at 5, got %d calls ending at %d", calls, last)
	}
}

func TestRandomForestFitCancelled(t *testing.T) {
	features, labels := forestData(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	forest := NewRandomForest(DefaultForestConfig())
	err := forest.Fit(ctx, features, labels)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := forest.Predict(features); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted after cancelled fit, got %v", err)
	}
}

func TestRandomForestUnmarshalRejectsTrailingBytes(t *testing.T) {
	features, labels := forestData(t)
	config := DefaultForestConfig()
	config.Trees = 2
	forest := NewRandomForest(config)
	if err := forest.Fit(context.Background(), features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := forest.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := NewRandomForest(ForestConfig{}).UnmarshalBinary(append(data, 0)); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}
