// Package metrics exposes gateway counters and gauges to Prometheus.
//
// Metrics owns a private registry so tests can create as many instances as
// they like without tripping duplicate-registration panics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rfmgw"

// Metrics holds every collector the gateway updates.
//
// Thread Safety: all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	uplinkPackets    *prometheus.CounterVec
	droppedPackets   prometheus.Counter
	downlinkMessages prometheus.Counter
	downlinkErrors   *prometheus.CounterVec
	dispatchAttempts prometheus.Counter
	dispatches       *prometheus.CounterVec
	slotOverwrites   prometheus.Counter
	inboundDropped   prometheus.Counter
	reconnects       prometheus.Counter
	linkUp           prometheus.Gauge
	powerOut         prometheus.Gauge
	uptimeMinutes    prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		uplinkPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_packets_total",
			Help:      "Radio packets translated to bus publications, by device class.",
		}, []string{"class"}),

		droppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_dropped_total",
			Help:      "Radio packets dropped because of a size mismatch.",
		}),

		downlinkMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downlink_messages_total",
			Help:      "Southbound bus messages processed.",
		}),

		downlinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downlink_errors_total",
			Help:      "Southbound messages rejected, by syntax error code.",
		}, []string{"code"}),

		dispatchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Radio send attempts made by the delivery manager.",
		}),

		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Completed dispatches, by outcome (delivered, lost).",
		}, []string{"outcome"}),

		slotOverwrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_overwrites_total",
			Help:      "Pending dispatches replaced before they were delivered.",
		}),

		inboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_inbound_dropped_total",
			Help:      "Southbound bus messages dropped because the inbound queue was full.",
		}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_reconnects_total",
			Help:      "Bus links restored by the connection supervisor.",
		}),

		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_link_up",
			Help:      "1 when the bus link is connected.",
		}),

		powerOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_out",
			Help:      "1 when mains power is out.",
		}),

		uptimeMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_minutes",
			Help:      "Gateway uptime in whole minutes.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uplinkPackets,
		m.droppedPackets,
		m.downlinkMessages,
		m.downlinkErrors,
		m.dispatchAttempts,
		m.dispatches,
		m.slotOverwrites,
		m.inboundDropped,
		m.reconnects,
		m.linkUp,
		m.powerOut,
		m.uptimeMinutes,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UplinkPacket counts a translated radio packet.
func (m *Metrics) UplinkPacket(class string) {
	m.uplinkPackets.WithLabelValues(class).Inc()
}

// PacketDropped counts a radio packet of the wrong size.
func (m *Metrics) PacketDropped() {
	m.droppedPackets.Inc()
}

// DownlinkMessage counts a processed southbound message.
func (m *Metrics) DownlinkMessage() {
	m.downlinkMessages.Inc()
}

// DownlinkError counts a syntax error diagnostic.
func (m *Metrics) DownlinkError(code int) {
	m.downlinkErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// DispatchAttempt counts one radio send attempt.
func (m *Metrics) DispatchAttempt() {
	m.dispatchAttempts.Inc()
}

// DispatchOutcome counts a finished dispatch.
func (m *Metrics) DispatchOutcome(delivered bool) {
	outcome := "lost"
	if delivered {
		outcome = "delivered"
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// SlotOverwritten counts a pending dispatch replaced by a newer one.
func (m *Metrics) SlotOverwritten() {
	m.slotOverwrites.Inc()
}

// InboundDropped counts a southbound message lost to a full inbound queue.
func (m *Metrics) InboundDropped() {
	m.inboundDropped.Inc()
}

// Reconnected counts a restored bus link.
func (m *Metrics) Reconnected() {
	m.reconnects.Inc()
}

// LinkState records whether the bus link is up.
func (m *Metrics) LinkState(up bool) {
	m.linkUp.Set(boolToFloat(up))
}

// PowerState records whether mains power is out.
func (m *Metrics) PowerState(out bool) {
	m.powerOut.Set(boolToFloat(out))
}

// Uptime records the uptime minute counter.
func (m *Metrics) Uptime(minutes int64) {
	m.uptimeMinutes.Set(float64(minutes))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
