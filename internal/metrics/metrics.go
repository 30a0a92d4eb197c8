// Package metrics exposes coordinator state to Prometheus. All values are
// gathered at scrape time from live providers, so there is no counter
// bookkeeping spread through the core packages.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveSessionsProvider exposes the number of active recording sessions.
type ActiveSessionsProvider interface {
	ActiveSessionCount() int
}

// CallStatusCounter returns call record counts grouped by lifecycle status.
type CallStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers coordinator metrics at
// scrape time.
type Collector struct {
	sessions  ActiveSessionsProvider
	calls     CallStatusCounter
	startTime time.Time

	// Metric descriptors.
	sessionsDesc   *prometheus.Desc
	callsTotalDesc *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(sessions ActiveSessionsProvider, calls CallStatusCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		calls:     calls,
		startTime: startTime,

		sessionsDesc: prometheus.NewDesc(
			"callcoord_recording_sessions_active",
			"Number of recording sessions currently joined to a channel",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callcoord_calls_total",
			"Total call records by lifecycle status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callcoord_uptime_seconds",
			"Seconds since the coordinator process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.sessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessionCount()),
		)
	}

	if c.calls != nil {
		counts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for status, count := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(count), status,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
