package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObservePredictions(3, time.Millisecond)
	m.CacheLookups(2, 1)
	m.TrainingFinished(nil, time.Second)
	m.TrainingFinished(errors.New("boom"), 0)
	m.ModelReloaded(nil)
	m.SetModelScores(1.0/3, 0.9, 0.8)
	m.ClientConnected()

	require.Equal(t, 3.0, testutil.ToFloat64(m.predictions))
	require.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.trainingRuns.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.trainingRuns.WithLabelValues("error")))
	require.Equal(t, 0.8, testutil.ToFloat64(m.modelScore.WithLabelValues("test")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.wsClients))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePredictions(1, time.Millisecond)
	m.CacheLookups(1, 1)
	m.TrainingFinished(nil, time.Second)
	m.ModelReloaded(errors.New("boom"))
	m.SetModelScores(0, 0, 0)
	m.ClientConnected()
	m.ClientDisconnected()
}
