// Package metrics provides the Prometheus instrumentation of the driver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mantlenetworkio/engine-driver/eth"
)

const Namespace = "engined"

// Metricer is the interface the core consumes; keeps the engine package
// decoupled from the Prometheus registry.
type Metricer interface {
	RecordHeadRef(name string, ref eth.BlockRef)
	RecordTaskResult(kind string, result string)
	RecordEngineCall(method string, duration time.Duration, err error)
	RecordSyncStatus(syncing bool)
	RecordReorgDepth(depth uint64)
	RecordQueueLength(n int)
}

type Metrics struct {
	registry *prometheus.Registry

	headRefNumber *prometheus.GaugeVec
	headRefTime   *prometheus.GaugeVec
	taskResults   *prometheus.CounterVec
	engineCalls   *prometheus.HistogramVec
	syncStatus    prometheus.Gauge
	reorgDepth    prometheus.Histogram
	queueLength   prometheus.Gauge
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName
	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	return &Metrics{
		registry: registry,
		headRefNumber: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "head_block_number",
			Help:      "Block number of the tracked head, per safety label",
		}, "label"),
		headRefTime: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "head_block_timestamp",
			Help:      "Block timestamp of the tracked head, per safety label",
		}, "label"),
		taskResults: factory.counterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "task_results_total",
			Help:      "Count of completed engine tasks by kind and result",
		}, "kind", "result"),
		engineCalls: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "engine_call_duration_seconds",
			Help:      "Duration of individual engine API calls",
			Buckets:   []float64{.005, .025, .1, .25, 1, 2.5, 10},
		}, "method", "error"),
		syncStatus: factory.gauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "engine_syncing",
			Help:      "1 while the execution engine is reported as syncing, 0 when ready",
		}),
		reorgDepth: factory.histogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "reorg_depth",
			Help:      "Depth of unsafe-chain reorgs resolved by consolidation",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		queueLength: factory.gauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "task_queue_length",
			Help:      "Number of tasks waiting in the scheduler queue",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHeadRef(name string, ref eth.BlockRef) {
	m.headRefNumber.WithLabelValues(name).Set(float64(ref.Number))
	m.headRefTime.WithLabelValues(name).Set(float64(ref.Time))
}

func (m *Metrics) RecordTaskResult(kind string, result string) {
	m.taskResults.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordEngineCall(method string, duration time.Duration, err error) {
	errLabel := "false"
	if err != nil {
		errLabel = "true"
	}
	m.engineCalls.WithLabelValues(method, errLabel).Observe(duration.Seconds())
}

func (m *Metrics) RecordSyncStatus(syncing bool) {
	if syncing {
		m.syncStatus.Set(1)
	} else {
		m.syncStatus.Set(0)
	}
}

func (m *Metrics) RecordReorgDepth(depth uint64) {
	m.reorgDepth.Observe(float64(depth))
}

func (m *Metrics) RecordQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

// small registration helper, avoids repeating MustRegister at every site
type factory struct {
	r *prometheus.Registry
}

func promauto(r *prometheus.Registry) factory {
	return factory{r: r}
}

func (f factory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	f.r.MustRegister(g)
	return g
}

func (f factory) gaugeVec(opts prometheus.GaugeOpts, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	f.r.MustRegister(g)
	return g
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.r.MustRegister(c)
	return c
}

func (f factory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.r.MustRegister(h)
	return h
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.r.MustRegister(h)
	return h
}
