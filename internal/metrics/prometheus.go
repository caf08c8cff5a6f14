package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names understood by the Provider implementations.
const (
	RequestsTotal       = "bridge_requests_total"
	RequestsFailedTotal = "bridge_requests_failed_total"
	ActiveSubscriptions = "bridge_active_subscriptions"
	RelayedEventsTotal  = "bridge_relayed_events_total"
	RelayErrorsTotal    = "bridge_relay_errors_total"
)

type Prom struct {
	reg *prometheus.Registry

	Requests       prometheus.Counter
	RequestsFailed prometheus.Counter
	ActiveSubs     prometheus.Gauge
	RelayedEvents  prometheus.Counter
	RelayErrors    prometheus.Counter
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:            reg,
		Requests:       prometheus.NewCounter(prometheus.CounterOpts{Name: RequestsTotal, Help: "Total inbound bridge requests dispatched"}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{Name: RequestsFailedTotal, Help: "Total bridge requests that produced an error result"}),
		ActiveSubs:     prometheus.NewGauge(prometheus.GaugeOpts{Name: ActiveSubscriptions, Help: "Currently registered subscription relays"}),
		RelayedEvents:  prometheus.NewCounter(prometheus.CounterOpts{Name: RelayedEventsTotal, Help: "Total subscription events relayed into the bus"}),
		RelayErrors:    prometheus.NewCounter(prometheus.CounterOpts{Name: RelayErrorsTotal, Help: "Total relay tasks terminated by stream or bus errors"}),
	}
	reg.MustRegister(p.Requests, p.RequestsFailed, p.ActiveSubs, p.RelayedEvents, p.RelayErrors)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	switch name {
	case ActiveSubscriptions:
		p.ActiveSubs.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	var c prometheus.Counter
	switch name {
	case RequestsTotal:
		c = p.Requests
	case RequestsFailedTotal:
		c = p.RequestsFailed
	case RelayedEventsTotal:
		c = p.RelayedEvents
	case RelayErrorsTotal:
		c = p.RelayErrors
	default:
		return
	}
	c.Add(delta)
}
