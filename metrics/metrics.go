package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the publication-pipeline counters. A nil Collector
// is valid and records nothing, so modules can run unmetered in tests.
type Collector struct {
	registry *prometheus.Registry

	outboxEnqueued prometheus.Counter
	outboxSent     prometheus.Counter
	outboxFailed   *prometheus.CounterVec
	outboxDeferred prometheus.Counter
	outboxBatches  prometheus.Counter
	postsPromoted  prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		outboxEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterpress_outbox_enqueued_total",
			Help: "Outbox entries created for publish notifications.",
		}),
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterpress_outbox_sent_total",
			Help: "Outbox entries delivered to the mail transport.",
		}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterpress_outbox_failed_total",
			Help: "Outbox entries that failed, by failure kind.",
		}, []string{"kind"}),
		outboxDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterpress_outbox_deferred_total",
			Help: "Outbox entries left for a later batch.",
		}),
		outboxBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterpress_outbox_batches_total",
			Help: "Outbox batch runs.",
		}),
		postsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterpress_posts_promoted_total",
			Help: "Scheduled posts promoted to published.",
		}),
	}

	c.registry.MustRegister(
		c.outboxEnqueued,
		c.outboxSent,
		c.outboxFailed,
		c.outboxDeferred,
		c.outboxBatches,
		c.postsPromoted,
	)
	return c
}

// Handler exposes the registry for a /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OutboxEnqueued(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.outboxEnqueued.Add(float64(n))
}

func (c *Collector) OutboxSent() {
	if c == nil {
		return
	}
	c.outboxSent.Inc()
}

func (c *Collector) OutboxFailed(permanent bool) {
	if c == nil {
		return
	}
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	c.outboxFailed.WithLabelValues(kind).Inc()
}

func (c *Collector) OutboxDeferred() {
	if c == nil {
		return
	}
	c.outboxDeferred.Inc()
}

func (c *Collector) OutboxBatch() {
	if c == nil {
		return
	}
	c.outboxBatches.Inc()
}

func (c *Collector) PostsPromoted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.postsPromoted.Add(float64(n))
}
