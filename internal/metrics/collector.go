// Package metrics exposes agent counters to prometheus and reads the
// platform metrics endpoint of the compute pool.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcd_agent"

// Warehouse call kinds observed by the instrumented gateway.
const (
	callSubmit = "submit"
	callHelper = "helper"
	callFetch  = "fetch"
	callCancel = "cancel"
)

// Collector gathers the agent's operational metrics. It implements
// prometheus.Collector and is registered once at startup.
type Collector struct {
	operationsReceived prometheus.Counter
	resultsPushed      *prometheus.CounterVec
	acksSent           prometheus.Counter
	streamReconnects   prometheus.Counter
	operationsInFlight prometheus.Gauge
	outboxPending      prometheus.Gauge
	warehouseCalls     *prometheus.HistogramVec
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector with every agent metric registered on it.
func NewCollector() *Collector {
	return &Collector{
		operationsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_received_total",
				Help:      "Operations received from the event stream.",
			},
		),
		resultsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_pushed_total",
				Help:      "Result push attempts by outcome.",
			}, []string{"outcome"},
		),
		acksSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acks_sent_total",
				Help:      "Acks sent for operations still in progress.",
			},
		),
		streamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_reconnects_total",
				Help:      "Event stream receivers built after the first connect.",
			},
		),
		operationsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operations_in_flight",
				Help:      "Ledger operations not yet settled.",
			},
		),
		outboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_pending",
				Help:      "Result pushes waiting in the outbox.",
			},
		),
		warehouseCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "warehouse_call_duration_seconds",
				Help:      "Duration of warehouse API calls.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"call"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.operationsReceived.Describe(ch)
	c.resultsPushed.Describe(ch)
	c.acksSent.Describe(ch)
	c.streamReconnects.Describe(ch)
	c.operationsInFlight.Describe(ch)
	c.outboxPending.Describe(ch)
	c.warehouseCalls.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.operationsReceived.Collect(ch)
	c.resultsPushed.Collect(ch)
	c.acksSent.Collect(ch)
	c.streamReconnects.Collect(ch)
	c.operationsInFlight.Collect(ch)
	c.outboxPending.Collect(ch)
	c.warehouseCalls.Collect(ch)
}

// OperationReceived counts one operation taken off the stream.
func (c *Collector) OperationReceived() {
	c.operationsReceived.Inc()
}

// ResultPushed counts one push attempt.
func (c *Collector) ResultPushed(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.resultsPushed.WithLabelValues(outcome).Inc()
}

// AckSent counts one delivered ack.
func (c *Collector) AckSent() {
	c.acksSent.Inc()
}

// StreamReconnected counts one receiver replacement.
func (c *Collector) StreamReconnected() {
	c.streamReconnects.Inc()
}

// SetQueueDepths records the sampled ledger and outbox depths.
func (c *Collector) SetQueueDepths(inFlight, outboxPending int) {
	c.operationsInFlight.Set(float64(inFlight))
	c.outboxPending.Set(float64(outboxPending))
}

func (c *Collector) observeWarehouseCall(call string, d time.Duration) {
	c.warehouseCalls.WithLabelValues(call).Observe(d.Seconds())
}
