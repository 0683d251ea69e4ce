package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records the operational metrics of the rendezvous flow:
// requests published, waits resolved per outcome, binding races lost to
// the console, responses written, and file ingestion.
type Collector struct {
	requestsCreated  prometheus.Counter
	waitsResolved    *prometheus.CounterVec
	waitDuration     *prometheus.HistogramVec
	bindingRacesLost prometheus.Counter

	responsesWritten *prometheus.CounterVec
	pendingRequests  prometheus.Gauge

	filesIngested prometheus.Counter
	fileBytes     prometheus.Counter
	filesDeduped  prometheus.Counter

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. A nil reg uses the
// default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_created_total",
		Help:      "Total number of requests published for operator input",
	})

	c.waitsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_resolved_total",
			Help:      "Total number of resolved waits by outcome",
		},
		[]string{"outcome"},
	)

	c.waitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time from request creation to resolution in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	c.bindingRacesLost = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "binding_races_lost_total",
		Help:      "Synthetic cancellations that lost the binding race to a genuine response",
	})

	c.responsesWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_written_total",
			Help:      "Total number of responses bound by the console",
		},
		[]string{"kind"}, // answered, declined
	)

	c.pendingRequests = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Requests currently waiting for operator input",
	})

	c.filesIngested = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_ingested_total",
		Help:      "Total number of attachment files ingested",
	})

	c.fileBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "file_bytes_ingested_total",
		Help:      "Total attachment bytes ingested",
	})

	c.filesDeduped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_deduplicated_total",
		Help:      "Attachments that matched an already stored content hash",
	})

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RequestCreated counts a newly published request.
func (c *Collector) RequestCreated() {
	c.requestsCreated.Inc()
	c.pendingRequests.Inc()
}

// WaitResolved counts a resolved wait and observes its duration.
func (c *Collector) WaitResolved(outcome string, duration time.Duration) {
	c.waitsResolved.WithLabelValues(outcome).Inc()
	c.waitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	c.pendingRequests.Dec()
}

// BindingRaceLost counts a synthetic cancellation beaten by a genuine
// response.
func (c *Collector) BindingRaceLost() {
	c.bindingRacesLost.Inc()
}

// ResponseWritten counts a response bound by the console.
func (c *Collector) ResponseWritten(kind string) {
	c.responsesWritten.WithLabelValues(kind).Inc()
}

// FileIngested records one ingested attachment.
func (c *Collector) FileIngested(size int64, deduplicated bool) {
	c.filesIngested.Inc()
	c.fileBytes.Add(float64(size))
	if deduplicated {
		c.filesDeduped.Inc()
	}
}

// RecordDBConnections records database pool occupancy.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
