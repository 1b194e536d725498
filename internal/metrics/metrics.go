// Package metrics exposes the Prometheus instrumentation shared by the
// refresh driver, the notifiers and the agenda scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reg *prometheus.Registry

	FetchTotal        *prometheus.CounterVec // result: ok|transient|auth
	NotificationsSent *prometheus.CounterVec // kind: appointment|mail
	SendFailures      *prometheus.CounterVec // kind: appointment|mail|agenda
	AgendaRuns        prometheus.Counter
	CacheItems        *prometheus.GaugeVec // kind: appointment|mail
	CacheReady        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ewsbot_fetch_total",
			Help: "Provider fetch attempts by result.",
		}, []string{"result"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ewsbot_notifications_sent_total",
			Help: "Confirmed notifications by kind.",
		}, []string{"kind"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ewsbot_send_failures_total",
			Help: "Failed outbound sends by kind.",
		}, []string{"kind"}),
		AgendaRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "ewsbot_agenda_runs_total",
			Help: "Daily agenda digests triggered.",
		}),
		CacheItems: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ewsbot_cache_items",
			Help: "Items in the current snapshot by kind.",
		}, []string{"kind"}),
		CacheReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ewsbot_cache_ready",
			Help: "1 once the first successful refresh happened.",
		}),
	}
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
