package ml

import (
	"context"
	"fmt"
	"time"
)

const (
	// ModelName is recorded in the metadata of every trained artifact.
	ModelName = "Random Forest Classifier"
	// DefaultTestSize is the fraction of rows held out for the test score.
	DefaultTestSize = 0.20
)

type trainConfig struct {
	seed     int64
	testSize float64
	workers  int
	now      func() time.Time
	progress func(done, total int)
	factory  func() Classifier
}

// TrainOption adjusts how Train runs.
type TrainOption func(*trainConfig)

// WithClock replaces time.Now for the metadata timestamp.
func WithClock(now func() time.Time) TrainOption {
	return func(c *trainConfig) { c.now = now }
}

// WithProgress is called after each tree of the default forest is built.
func WithProgress(progress func(done, total int)) TrainOption {
	return func(c *trainConfig) { c.progress = progress }
}

// WithWorkers limits how many trees are built at once.
func WithWorkers(n int) TrainOption {
	return func(c *trainConfig) { c.workers = n }
}

// WithClassifier replaces the default random forest.
func WithClassifier(factory func() Classifier) TrainOption {
	return func(c *trainConfig) { c.factory = factory }
}

// Train splits the table, fits a classifier on the train rows and scores it
// on both subsets. It returns a complete artifact or an error, never a
// partial result.
func Train(ctx context.Context, table Table, target string, features []string, opts ...TrainOption) (*Artifact, error) {
	config := trainConfig{
		seed:     DefaultSeed,
		testSize: DefaultTestSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrSchema)
	}
	if err := validateFeatureNames(features); err != nil {
		return nil, err
	}
	labels, err := table.Labels(target)
	if err != nil {
		return nil, err
	}
	matrix, err := table.Matrix(features)
	if err != nil {
		return nil, err
	}

	split, err := StratifiedSplit(labels, config.testSize, config.seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := subset(matrix, labels, split.Train)
	testX, testY := subset(matrix, labels, split.Test)

	classifier := newDefaultClassifier(config)
	if err := classifier.Fit(ctx, trainX, trainY); err != nil {
		return nil, err
	}

	trainScore, err := accuracy(classifier, trainX, trainY)
	if err != nil {
		return nil, err
	}
	testScore, err := accuracy(classifier, testX, testY)
	if err != nil {
		return nil, err
	}

	metadata := Metadata{
		ModelName:     ModelName,
		TrainCount:    len(split.Train),
		TotalCount:    len(table),
		BaselineScore: 1 / float64(len(DistinctLabels(labels))),
		TrainScore:    trainScore,
		TestScore:     testScore,
		Timestamp:     config.now().Format(TimestampLayout),
	}
	return NewArtifact(classifier, features, metadata)
}

func newDefaultClassifier(config trainConfig) Classifier {
	if config.factory != nil {
		return config.factory()
	}
	forest := DefaultForestConfig()
	forest.Seed = config.seed
	forest.Workers = config.workers
	forest.Progress = config.progress
	return NewRandomForest(forest)
}

func subset(matrix [][]float64, labels []string, rows []int) ([][]float64, []string) {
	x := make([][]float64, len(rows))
	y := make([]string, len(rows))
	for i, row := range rows {
		x[i] = matrix[row]
		y[i] = labels[row]
	}
	return x, y
}

// accuracy is the fraction of rows whose predicted label equals the truth.
func accuracy(classifier Classifier, features [][]float64, labels []string) (float64, error) {
	if len(features) == 0 {
		return 0, nil
	}
	predicted, err := classifier.Predict(features)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, label := range predicted {
		if label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}
