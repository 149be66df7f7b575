package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"monsterlab/ml"
	"monsterlab/monitoring"
)

// ErrNoModel is returned by predictions before any artifact is loaded.
var ErrNoModel = errors.New("no model loaded")

type snapshot struct {
	artifact *ml.Artifact
	cache    *lru.Cache[string, ml.Prediction]
	loadedAt time.Time
	source   string
}

// Service serves predictions from the current artifact. The artifact can be
// replaced at any time; a batch is always scored by a single artifact.
type Service struct {
	current   atomic.Pointer[snapshot]
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	cacheSize int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for reloads.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records predictions, cache lookups and reloads.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithCacheSize bounds the per-artifact prediction cache. Zero disables it.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// New returns a service serving artifact, which may be nil.
func New(artifact *ml.Artifact, opts ...Option) (*Service, error) {
	s := &Service{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize < 0 {
		return nil, fmt.Errorf("cache size must not be negative, got %d", s.cacheSize)
	}
	if artifact != nil {
		if err := s.swap(artifact, ""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Open loads the artifact at path and serves it.
func Open(path string, opts ...Option) (*Service, error) {
	artifact, err := ml.Load(path)
	if err != nil {
		return nil, err
	}
	s, err := New(nil, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.swap(artifact, path); err != nil {
		return nil, err
	}
	return s, nil
}

// Swap replaces the served artifact. In-flight batches finish on the
// artifact they started with.
func (s *Service) Swap(artifact *ml.Artifact) error {
	if artifact == nil {
		return errors.New("nil artifact")
	}
	return s.swap(artifact, "")
}

func (s *Service) swap(artifact *ml.Artifact, source string) error {
	next := &snapshot{artifact: artifact, loadedAt: time.Now(), source: source}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, ml.Prediction](s.cacheSize)
		if err != nil {
			return err
		}
		next.cache = cache
	}
	s.current.Store(next)

	m := artifact.Metadata()
	s.metrics.SetModelScores(m.BaselineScore, m.TrainScore, m.TestScore)
	s.logger.Info("model swapped",
		zap.String("model", m.ModelName),
		zap.String("trained_at", m.Timestamp),
		zap.Float64("test_score", m.TestScore),
		zap.String("source", source))
	return nil
}

// Reload loads the artifact at path and swaps it in. On failure the current
// artifact keeps serving.
func (s *Service) Reload(path string) error {
	artifact, err := ml.Load(path)
	if err == nil {
		err = s.swap(artifact, path)
	}
	s.metrics.ModelReloaded(err)
	if err != nil {
		s.logger.Warn("model reload failed, keeping current model", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// Artifact returns the artifact currently served, or nil.
func (s *Service) Artifact() *ml.Artifact {
	if snap := s.current.Load(); snap != nil {
		return snap.artifact
	}
	return nil
}

// Metadata reports the current artifact's metadata and whether one is loaded.
func (s *Service) Metadata() (ml.Metadata, bool) {
	if snap := s.current.Load(); snap != nil {
		return snap.artifact.Metadata(), true
	}
	return ml.Metadata{}, false
}

// LoadedAt reports when the current artifact was swapped in.
func (s *Service) LoadedAt() (time.Time, bool) {
	if snap := s.current.Load(); snap != nil {
		return snap.loadedAt, true
	}
	return time.Time{}, false
}

// PredictBatch scores rows with the current artifact. Cached rows return
// exactly the prediction computed when they were first seen.
func (s *Service) PredictBatch(rows []ml.FeatureRow) ([]ml.Prediction, error) {
	predictions, _, err := s.Predict(rows)
	return predictions, err
}

// Predict is PredictBatch that also returns the metadata of the artifact
// that scored the batch.
func (s *Service) Predict(rows []ml.FeatureRow) ([]ml.Prediction, ml.Metadata, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ml.Metadata{}, ErrNoModel
	}
	predictions, err := s.predict(snap, rows)
	if err != nil {
		return nil, ml.Metadata{}, err
	}
	return predictions, snap.artifact.Metadata(), nil
}

func (s *Service) predict(snap *snapshot, rows []ml.FeatureRow) ([]ml.Prediction, error) {
	start := time.Now()

	vectors, err := snap.artifact.Vectorize(rows)
	if err != nil {
		return nil, err
	}
	if snap.cache == nil {
		predictions, err := snap.artifact.PredictVectors(vectors)
		if err != nil {
			return nil, err
		}
		s.metrics.ObservePredictions(len(rows), time.Since(start))
		return predictions, nil
	}

	predictions := make([]ml.Prediction, len(vectors))
	keys := make([]string, len(vectors))
	var missIdx []int
	var missVectors [][]float64
	for i, vector := range vectors {
		keys[i] = cacheKey(vector)
		if p, ok := snap.cache.Get(keys[i]); ok {
			predictions[i] = p
			continue
		}
		missIdx = append(missIdx, i)
		missVectors = append(missVectors, vector)
	}
	if len(missVectors) > 0 {
		scored, err := snap.artifact.PredictVectors(missVectors)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			predictions[i] = scored[j]
			snap.cache.Add(keys[i], scored[j])
		}
	}
	s.metrics.CacheLookups(len(vectors)-len(missIdx), len(missIdx))
	s.metrics.ObservePredictions(len(rows), time.Since(start))
	return predictions, nil
}

func cacheKey(vector []float64) string {
	buf := make([]byte, 0, 8*len(vector))
	for _, v := range vector {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return string(buf)
}
