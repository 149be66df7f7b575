package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultSeed makes the split and the forest reproducible.
	DefaultSeed int64 = 831592708

	forestKind = "random_forest"
)

// ForestConfig configures a RandomForest. Workers and Progress only affect
// how Fit runs, never what it produces.
type ForestConfig struct {
	Trees       int
	MaxDepth    int
	MaxFeatures int
	Seed        int64
	Workers     int
	Progress    func(done, total int)
}

// DefaultForestConfig is the fixed configuration of the rarity classifier.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:       66,
		MaxDepth:    10,
		MaxFeatures: 3,
		Seed:        DefaultSeed,
	}
}

// RandomForest averages the leaf class distributions of bootstrapped
// decision trees.
type RandomForest struct {
	config    ForestConfig
	classes   []string
	nFeatures int
	trees     []*DecisionTree
}

// NewRandomForest returns an unfitted forest.
func NewRandomForest(config ForestConfig) *RandomForest {
	return &RandomForest{config: config}
}

func (f *RandomForest) Kind() string { return forestKind }

func (f *RandomForest) Classes() []string { return append([]string(nil), f.classes...) }

func (f *RandomForest) NumFeatures() int { return f.nFeatures }

// Trees returns the number of fitted trees.
func (f *RandomForest) Trees() int { return len(f.trees) }

// Fit builds the trees concurrently. Every tree's seed is drawn from the
// forest seed before any tree starts, so the fitted forest does not depend
// on scheduling.
func (f *RandomForest) Fit(ctx context.Context, features [][]float64, labels []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if f.config.Trees <= 0 {
		return fmt.Errorf("tree count must be positive, got %d", f.config.Trees)
	}

	classes := DistinctLabels(labels)
	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}
	y := make([]int, len(labels))
	for i, label := range labels {
		y[i] = index[label]
	}

	master := rand.New(rand.NewSource(f.config.Seed))
	seeds := make([]int64, f.config.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	params := treeParams{maxDepth: f.config.MaxDepth, maxFeatures: f.config.MaxFeatures}
	trees := make([]*DecisionTree, f.config.Trees)

	workers := f.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	done := 0
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			weights := bootstrap(len(features), rng)
			tree := &DecisionTree{}
			if err := tree.fit(features, y, weights, len(classes), params, rng); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree

			if f.config.Progress != nil {
				mu.Lock()
				done++
				f.config.Progress(done, len(trees))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit random forest: %w", err)
	}

	f.classes = classes
	f.nFeatures = len(features[0])
	f.trees = trees
	return nil
}

// PredictProba returns, for each row, the mean class distribution over all
// trees. Columns follow Classes.
func (f *RandomForest) PredictProba(features [][]float64) ([][]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	n := float64(len(f.trees))
	proba := make([][]float64, len(features))
	for i, row := range features {
		acc := make([]float64, len(f.classes))
		for _, tree := range f.trees {
			value, err := tree.PredictProba(row)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			floats.Add(acc, value)
		}
		for k := range acc {
			acc[k] /= n
		}
		proba[i] = acc
	}
	return proba, nil
}

// Predict returns the most probable class of each row; ties go to the class
// that sorts first.
func (f *RandomForest) Predict(features [][]float64) ([]string, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(proba))
	for i, p := range proba {
		labels[i] = f.classes[floats.MaxIdx(p)]
	}
	return labels, nil
}

// MarshalBinary encodes the config, classes and every tree.
func (f *RandomForest) MarshalBinary() ([]byte, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	var w binaryWriter
	w.putUint32(uint32(f.config.Trees))
	w.putUint32(uint32(f.config.MaxDepth))
	w.putUint32(uint32(f.config.MaxFeatures))
	w.putInt64(f.config.Seed)
	w.putUint32(uint32(f.nFeatures))
	w.putStrings(f.classes)
	w.putUint32(uint32(len(f.trees)))
	for _, tree := range f.trees {
		tree.encode(&w)
	}
	return w.Bytes(), nil
}

func (f *RandomForest) UnmarshalBinary(data []byte) error {
	r := &binaryReader{data: data}
	config := ForestConfig{
		Trees:       int(r.uint32()),
		MaxDepth:    int(r.uint32()),
		MaxFeatures: int(r.uint32()),
		Seed:        r.int64(),
	}
	nFeatures := int(r.uint32())
	classes := r.strings()
	nTrees := r.length(1)
	if r.err != nil {
		return r.err
	}
	if nFeatures <= 0 || len(classes) == 0 || nTrees == 0 {
		return errors.New("empty forest")
	}
	trees := make([]*DecisionTree, nTrees)
	for i := range trees {
		tree, err := decodeTree(r, len(classes), nFeatures)
		if err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = tree
	}
	if r.remaining() != 0 {
		return fmt.Errorf("%d trailing bytes", r.remaining())
	}

	f.config = config
	f.classes = classes
	f.nFeatures = nFeatures
	f.trees = trees
	return nil
}

// bootstrap draws n rows with replacement and returns how often each row was
// drawn.
func bootstrap(n int, rng *rand.Rand) []float64 {
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[rng.Intn(n)]++
	}
	return weights
}
