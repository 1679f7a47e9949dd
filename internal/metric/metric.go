// Package metric exports loader and store events as Prometheus metrics.
package metric

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanpama/notegraph/internal/eventbus"
	"github.com/hanpama/notegraph/internal/events"
)

type collectors struct {
	batches           *prometheus.CounterVec
	batchKeys         *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	aggregates        *prometheus.CounterVec
	aggregateDocs     *prometheus.HistogramVec
	aggregateDuration *prometheus.HistogramVec
}

func newCollectors() *collectors {
	return &collectors{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notegraph",
			Subsystem: "loader",
			Name:      "batches_total",
			Help:      "Total number of dispatched loader batches",
		}, []string{"loader", "outcome"}),
		batchKeys: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notegraph",
			Subsystem: "loader",
			Name:      "batch_keys",
			Help:      "Number of leaf keys per loader batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"loader"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notegraph",
			Subsystem: "loader",
			Name:      "batch_duration_seconds",
			Help:      "Loader batch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loader"}),
		aggregates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notegraph",
			Subsystem: "store",
			Name:      "aggregates_total",
			Help:      "Total number of aggregations sent to the database",
		}, []string{"collection", "outcome"}),
		aggregateDocs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notegraph",
			Subsystem: "store",
			Name:      "aggregate_documents",
			Help:      "Number of documents returned per aggregation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"collection"}),
		aggregateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notegraph",
			Subsystem: "store",
			Name:      "aggregate_duration_seconds",
			Help:      "Aggregation latency including cursor draining",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{c.batches, c.batchKeys, c.batchDuration, c.aggregates, c.aggregateDocs, c.aggregateDuration}
}

// Register registers the collectors with reg and feeds them from the global
// event bus until unsubscribe is called.
func Register(reg prometheus.Registerer) (unsubscribe func(), err error) {
	c := newCollectors()
	for _, col := range c.all() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c.subscribe(), nil
}

func (c *collectors) subscribe() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.LoaderBatchFinish) {
			c.batches.WithLabelValues(e.Loader, outcome(e.Err)).Inc()
			c.batchKeys.WithLabelValues(e.Loader).Observe(float64(e.Keys))
			c.batchDuration.WithLabelValues(e.Loader).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.AggregateFinish) {
			c.aggregates.WithLabelValues(e.Collection, outcome(e.Err)).Inc()
			c.aggregateDocs.WithLabelValues(e.Collection).Observe(float64(e.Documents))
			c.aggregateDuration.WithLabelValues(e.Collection).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
