package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"monsterlab/inference"
	"monsterlab/monitoring"
)

type trainingFixture struct {
	handler   http.Handler
	jobs      *TrainingJobs
	models    *inference.Service
	hub       *monitoring.Hub
	modelPath string
}

func newTrainingFixture(t *testing.T, seed int) trainingFixture {
	t.Helper()
	store := newTestStore(t)
	if seed > 0 {
		require.NoError(t, store.Seed(context.Background(), seed))
	}
	models, err := inference.New(nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	hub := monitoring.NewHub(zap.NewNop(), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	modelPath := filepath.Join(t.TempDir(), "model.mlab")
	jobs, err := NewTrainingJobs(TrainingConfig{ModelPath: modelPath}, store, models, hub, metrics, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(jobs.Close)

	handler := newTestHandler(t, Deps{Store: store, Models: models, Jobs: jobs, Hub: hub, Gatherer: reg})
	return trainingFixture{handler: handler, jobs: jobs, models: models, hub: hub, modelPath: modelPath}
}

func startJob(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr := serve(handler, http.MethodPost, "/api/model/train", "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.NotEmpty(t, payload["job_id"])
	return payload["job_id"]
}

func waitForJob(t *testing.T, handler http.Handler, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		rr := serve(handler, http.MethodGet, "/api/model/train/"+id, "")
		if rr.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status != JobRunning
	}, 30*time.Second, 20*time.Millisecond)
	return job
}

func TestTrainingJobSwapsModel(t *testing.T) {
	f := newTrainingFixture(t, 300)

	id := startJob(t, f.handler)
	job := waitForJob(t, f.handler, id)
	require.Equal(t, JobSucceeded, job.Status, job.Error)
	require.Equal(t, 66, job.TreesDone)
	require.NotNil(t, job.Metadata)
	require.Equal(t, 240, job.Metadata.TrainCount)

	meta, ok := f.models.Metadata()
	require.True(t, ok)
	require.Equal(t, *job.Metadata, meta)
	_, err := os.Stat(f.modelPath)
	require.NoError(t, err)

	rr := serve(f.handler, http.MethodPost, "/api/model/predict", `[{"level":3,"health":20,"energy":9,"sanity":4}]`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(f.handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `monsterlab_training_runs_total{result="ok"} 1`)
}

func TestTrainingJobFailsOnEmptyStore(t *testing.T) {
	f := newTrainingFixture(t, 0)

	job := waitForJob(t, f.handler, startJob(t, f.handler))
	require.Equal(t, JobFailed, job.Status)
	require.NotEmpty(t, job.Error)
	require.Nil(t, f.models.Artifact())
}

func TestTrainingJobConflict(t *testing.T) {
	f := newTrainingFixture(t, 0)

	f.jobs.mu.Lock()
	f.jobs.running = true
	f.jobs.mu.Unlock()

	rr := serve(f.handler, http.MethodPost, "/api/model/train", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	f.jobs.mu.Lock()
	f.jobs.running = false
	f.jobs.mu.Unlock()

	rr = serve(f.handler, http.MethodGet, "/api/model/train/unknown", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTrainingEventsOverWebsocket(t *testing.T) {
	f := newTrainingFixture(t, 300)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/ws/training", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	startJob(t, f.handler)

	seen := make(map[monitoring.MessageType]bool)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for !seen[monitoring.ModelReloaded] {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var message monitoring.Message
		require.NoError(t, json.Unmarshal(data, &message))
		seen[message.Type] = true
	}
	require.True(t, seen[monitoring.TrainingStarted])
	require.True(t, seen[monitoring.TrainingFinished])
	require.False(t, seen[monitoring.TrainingFailed])
}
