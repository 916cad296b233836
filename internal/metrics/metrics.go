// Package metrics defines Prometheus instrumentation for the feed client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{Name: "clob_connections_open", Help: "Currently open WebSocket connections"})
	AssetsTracked   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "clob_assets_tracked", Help: "Assets with an active subscription"})
	EventsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "clob_events_total", Help: "Feed events processed by type"}, []string{"type"})
	ParseErrors     = prometheus.NewCounter(prometheus.CounterOpts{Name: "clob_parse_errors_total", Help: "Frames that failed to parse"})
	PriceUpdates    = prometheus.NewCounter(prometheus.CounterOpts{Name: "clob_price_updates_total", Help: "Derived price updates emitted"})
	Sweeps          = prometheus.NewCounter(prometheus.CounterOpts{Name: "clob_sweeps_total", Help: "Reconnect/cleanup sweeps executed"})
	Reconnects      = prometheus.NewCounter(prometheus.CounterOpts{Name: "clob_reconnects_total", Help: "Connection attempts made by the sweep"})
	HandlerPanics   = prometheus.NewCounter(prometheus.CounterOpts{Name: "clob_handler_panics_total", Help: "Panics recovered from caller-supplied handlers"})
)

// Init registers all collectors on a fresh registry, plus the standard Go
// and process collectors.
func Init() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ConnectionsOpen, AssetsTracked, EventsTotal, ParseErrors,
		PriceUpdates, Sweeps, Reconnects, HandlerPanics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
