package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stageBuckets cover the engine's latency range: in-memory scoring lands in
// the low milliseconds, store batches in the tens, hosted embedding calls in
// whole seconds up to their 30s timeout.
var stageBuckets = []float64{0.002, 0.01, 0.05, 0.2, 1, 5, 15, 30, 60}

// PromRecorder is the Prometheus-backed Recorder. All collectors live on a
// private registry so embedding the engine never pollutes a host process's
// default registry.
type PromRecorder struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	errorKinds   *prometheus.CounterVec

	nodes     prometheus.Gauge
	edges     prometheus.Gauge
	documents prometheus.Gauge
	tags      prometheus.Gauge
}

// NewPromRecorder builds the collector set on a fresh registry.
func NewPromRecorder() *PromRecorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	graphGauge := func(entity string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Name:        "forest_graph_entities",
			Help:        "Stored entity counts by kind",
			ConstLabels: prometheus.Labels{"kind": entity},
		})
	}

	return &PromRecorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forest_operations_total",
			Help: "Engine operations by type and outcome",
		}, []string{"op", "outcome"}),
		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forest_stage_duration_seconds",
			Help:    "Stage latency within engine operations",
			Buckets: stageBuckets,
		}, []string{"op", "stage"}),
		errorKinds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forest_errors_total",
			Help: "Errors by operation and taxonomy kind",
		}, []string{"op", "kind"}),
		nodes:     graphGauge("nodes"),
		edges:     graphGauge("edges"),
		documents: graphGauge("documents"),
		tags:      graphGauge("tags"),
	}
}

// OperationDone counts one finished operation.
func (r *PromRecorder) OperationDone(op string, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	r.operations.WithLabelValues(op, outcome).Inc()
}

// StageDone observes one stage latency.
func (r *PromRecorder) StageDone(op, stage string, elapsed time.Duration) {
	r.stageSeconds.WithLabelValues(op, stage).Observe(elapsed.Seconds())
}

// ErrorSeen counts one classified error.
func (r *PromRecorder) ErrorSeen(op, kind string) {
	r.errorKinds.WithLabelValues(op, kind).Inc()
}

// GraphSize publishes the entity count gauges.
func (r *PromRecorder) GraphSize(sizes GraphSizes) {
	r.nodes.Set(float64(sizes.Nodes))
	r.edges.Set(float64(sizes.Edges))
	r.documents.Set(float64(sizes.Documents))
	r.tags.Set(float64(sizes.Tags))
}

// Registry returns the private registry for HTTP exposure.
func (r *PromRecorder) Registry() *prometheus.Registry {
	return r.registry
}
