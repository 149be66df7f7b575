package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monsterlab"

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	predictions      prometheus.Counter
	predictLatency   prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	trainingRuns     *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	modelReloads     *prometheus.CounterVec
	modelScore       *prometheus.GaugeVec
	wsClients        prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		predictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Rows scored by the rarity classifier.",
		}),
		predictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_batch_seconds",
			Help:      "Latency of prediction batches.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_lookups_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		trainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by result.",
		}, []string{"result"}),
		trainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_seconds",
			Help:      "Duration of successful training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		modelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Artifact swaps by result.",
		}, []string{"result"}),
		modelScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_score",
			Help:      "Accuracy of the serving model by split.",
		}, []string{"split"}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected training event subscribers.",
		}),
	}
}

// ObservePredictions records one scored batch.
func (m *Metrics) ObservePredictions(rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.predictions.Add(float64(rows))
	m.predictLatency.Observe(elapsed.Seconds())
}

// CacheLookups counts prediction cache hits and misses.
func (m *Metrics) CacheLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// TrainingFinished records the outcome and duration of a training run.
func (m *Metrics) TrainingFinished(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.trainingRuns.WithLabelValues("error").Inc()
		return
	}
	m.trainingRuns.WithLabelValues("ok").Inc()
	m.trainingDuration.Observe(elapsed.Seconds())
}

// ModelReloaded counts artifact reloads by result.
func (m *Metrics) ModelReloaded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.modelReloads.WithLabelValues("error").Inc()
		return
	}
	m.modelReloads.WithLabelValues("ok").Inc()
}

// SetModelScores publishes the baseline, train and test accuracy of the
// serving model.
func (m *Metrics) SetModelScores(baseline, train, test float64) {
	if m == nil {
		return
	}
	m.modelScore.WithLabelValues("baseline").Set(baseline)
	m.modelScore.WithLabelValues("train").Set(train)
	m.modelScore.WithLabelValues("test").Set(test)
}

// ClientConnected tracks a new websocket client.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

// ClientDisconnected tracks a websocket client going away.
func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}
