package http

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"monsterlab/db"
	"monsterlab/inference"
	"monsterlab/ml"
	"monsterlab/monitoring"
)

// ErrJobRunning is returned by Start while another job is in progress.
var ErrJobRunning = errors.New("a training job is already running")

const jobHistory = 64

// JobStatus is the lifecycle state of a training job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a snapshot of a training job as reported by the API.
type Job struct {
	ID         string       `json:"id"`
	Status     JobStatus    `json:"status"`
	TreesDone  int          `json:"trees_done"`
	TreesTotal int          `json:"trees_total"`
	Error      string       `json:"error,omitempty"`
	Metadata   *ml.Metadata `json:"metadata,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// TrainingConfig configures background training.
type TrainingConfig struct {
	ModelPath string
	Target    string
	Features  []string
	Workers   int
}

// TrainingJobs retrains the model from the store in the background, saves
// the artifact and swaps it into the inference service. One job runs at a
// time.
type TrainingJobs struct {
	config  TrainingConfig
	store   *db.Store
	models  *inference.Service
	hub     *monitoring.Hub
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	jobs    *lru.Cache[string, *Job]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTrainingJobs(config TrainingConfig, store *db.Store, models *inference.Service,
	hub *monitoring.Hub, metrics *monitoring.Metrics, logger *zap.Logger) (*TrainingJobs, error) {
	if config.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Target == "" {
		config.Target = ml.DefaultTarget
	}
	if len(config.Features) == 0 {
		config.Features = ml.DefaultFeatures()
	}
	jobs, err := lru.New[string, *Job](jobHistory)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TrainingJobs{
		config:  config,
		store:   store,
		models:  models,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		jobs:    jobs,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches a training job and returns it in its initial state.
func (t *TrainingJobs) Start() (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return Job{}, errors.New("training jobs are closed")
	}
	if t.running {
		return Job{}, ErrJobRunning
	}
	job := &Job{
		ID:         uuid.NewString(),
		Status:     JobRunning,
		TreesTotal: ml.DefaultForestConfig().Trees,
		StartedAt:  time.Now(),
	}
	t.running = true
	t.jobs.Add(job.ID, job)

	t.wg.Add(1)
	go t.run(job.ID)
	t.publish(monitoring.TrainingStarted, *job)
	return *job, nil
}

// Get returns a snapshot of a recent job.
func (t *TrainingJobs) Get(id string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs.Peek(id)
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Close cancels a running job and waits for it to finish.
func (t *TrainingJobs) Close() {
	t.cancel()
	t.wg.Wait()
}

func (t *TrainingJobs) run(id string) {
	defer t.wg.Done()
	start := time.Now()
	logger := t.logger.With(zap.String("job_id", id))
	logger.Info("training started")

	meta, err := t.train(func(done, total int) {
		job := t.update(id, func(job *Job) {
			job.TreesDone = done
			job.TreesTotal = total
		})
		t.publish(monitoring.TrainingProgress, job)
	})
	t.metrics.TrainingFinished(err, time.Since(start))

	job := t.update(id, func(job *Job) {
		now := time.Now()
		job.FinishedAt = &now
		t.running = false
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
			return
		}
		job.Status = JobSucceeded
		job.Metadata = &meta
	})

	if err != nil {
		logger.Error("training failed", zap.Error(err))
		t.publish(monitoring.TrainingFailed, job)
		return
	}
	logger.Info("training finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("test_score", meta.TestScore))
	t.publish(monitoring.TrainingFinished, job)
	t.publish(monitoring.ModelReloaded, meta)
}

func (t *TrainingJobs) train(progress func(done, total int)) (ml.Metadata, error) {
	table, err := t.store.Table(t.ctx)
	if err != nil {
		return ml.Metadata{}, fmt.Errorf("load table: %w", err)
	}
	artifact, err := ml.Train(t.ctx, table, t.config.Target, t.config.Features,
		ml.WithProgress(progress),
		ml.WithWorkers(t.config.Workers))
	if err != nil {
		return ml.Metadata{}, err
	}
	if err := ml.Save(t.config.ModelPath, artifact); err != nil {
		return ml.Metadata{}, err
	}
	if err := t.models.Swap(artifact); err != nil {
		return ml.Metadata{}, err
	}
	return artifact.Metadata(), nil
}

func (t *TrainingJobs) update(id string, apply func(*Job)) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs.Peek(id)
	if !ok {
		job = &Job{ID: id}
		t.jobs.Add(id, job)
	}
	apply(job)
	return *job
}

func (t *TrainingJobs) publish(kind monitoring.MessageType, data any) {
	if t.hub != nil {
		t.hub.Publish(kind, data)
	}
}
