// Package metrics exposes Prometheus collectors for the feed multiplexer
// and a lightweight process resource sampler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed aggregates the multiplexer's collectors. One instance is shared by
// the market and user managers; series are split by the channel label.
type Feed struct {
	dials        *prometheus.CounterVec
	dialFailures *prometheus.CounterVec
	redials      *prometheus.CounterVec
	frames       *prometheus.CounterVec
	events       *prometheus.CounterVec
	parseErrors  *prometheus.CounterVec
	priceUpdates prometheus.Counter
	groups       *prometheus.GaugeVec
	cachedBooks  prometheus.Gauge
}

// NewFeed registers the collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry, or a private
// registry in tests to avoid duplicate-registration panics.
func NewFeed(reg prometheus.Registerer) *Feed {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Feed{
		dials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_dials_total",
			Help: "WebSocket dials attempted",
		}, []string{"channel"}),
		dialFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_dial_failures_total",
			Help: "WebSocket dials that failed",
		}, []string{"channel"}),
		redials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_redials_total",
			Help: "Reconnects issued for dead groups",
		}, []string{"channel"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_frames_total",
			Help: "WebSocket frames received",
		}, []string{"channel"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Events decoded, by kind",
		}, []string{"channel", "kind"}),
		parseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_parse_errors_total",
			Help: "Frames or events dropped as unparseable",
		}, []string{"channel"}),
		priceUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_price_updates_total",
			Help: "Synthesized price_update events emitted",
		}),
		groups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feed_groups",
			Help: "Connection groups, by status",
		}, []string{"channel", "status"}),
		cachedBooks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_cached_books",
			Help: "Order book replicas currently held",
		}),
	}
}

func (m *Feed) RecordDial(channel string) {
	m.dials.WithLabelValues(channel).Inc()
}

func (m *Feed) RecordDialFailure(channel string) {
	m.dialFailures.WithLabelValues(channel).Inc()
}

func (m *Feed) RecordRedials(channel string, n int) {
	if n > 0 {
		m.redials.WithLabelValues(channel).Add(float64(n))
	}
}

func (m *Feed) RecordFrame(channel string) {
	m.frames.WithLabelValues(channel).Inc()
}

func (m *Feed) RecordEvents(channel, kind string, n int) {
	if n > 0 {
		m.events.WithLabelValues(channel, kind).Add(float64(n))
	}
}

func (m *Feed) RecordParseError(channel string) {
	m.parseErrors.WithLabelValues(channel).Inc()
}

func (m *Feed) RecordPriceUpdates(n int) {
	if n > 0 {
		m.priceUpdates.Add(float64(n))
	}
}

func (m *Feed) SetGroups(channel, status string, n int) {
	m.groups.WithLabelValues(channel, status).Set(float64(n))
}

func (m *Feed) SetCachedBooks(n int) {
	m.cachedBooks.Set(float64(n))
}
