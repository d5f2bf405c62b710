package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ConnectionOpened("human", "brokered")
type Metrics struct {
	// ConnectionsActive tracks live connections.
	// Labels: role (human|agent), mode (brokered|proxied)
	ConnectionsActive *prometheus.GaugeVec

	// ConnectionsTotal counts connection attempts by outcome.
	// Labels: role, mode, outcome (admitted|rejected|auth_failed|closed)
	ConnectionsTotal *prometheus.CounterVec

	// FramesTotal counts frames by direction and opcode.
	// Labels: direction (in|out), opcode (text|ping|pong|close|other)
	FramesTotal *prometheus.CounterVec

	// MessagesRouted counts routed application messages.
	// Labels: kind (message|chunk|done|typing|error|history|...), direction
	MessagesRouted *prometheus.CounterVec

	// FilterDropped counts messages dropped by the proxy whitelist.
	// Labels: direction (client|upstream), type
	FilterDropped *prometheus.CounterVec

	// AuthAttempts counts auth gate outcomes.
	// Labels: result (success|failure|exhausted|timeout|header)
	AuthAttempts *prometheus.CounterVec

	// ErrorsTotal counts errors by kind.
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg. A nil reg uses the
// Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chanbridge_connections_active",
				Help: "Current number of live channel connections",
			},
			[]string{"role", "mode"},
		),
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_connections_total",
				Help: "Channel connection attempts by role, mode and outcome",
			},
			[]string{"role", "mode", "outcome"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_frames_total",
				Help: "Frames read or written by direction and opcode",
			},
			[]string{"direction", "opcode"},
		),
		MessagesRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_messages_routed_total",
				Help: "Application messages routed by kind and direction",
			},
			[]string{"kind", "direction"},
		),
		FilterDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_filter_dropped_total",
				Help: "Messages dropped by the gateway whitelist filter",
			},
			[]string{"direction", "type"},
		),
		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_auth_attempts_total",
				Help: "Auth gate outcomes",
			},
			[]string{"result"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanbridge_errors_total",
				Help: "Bridge errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// ConnectionOpened records an admitted connection.
func (m *Metrics) ConnectionOpened(role, mode string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(role, mode).Inc()
	m.ConnectionsTotal.WithLabelValues(role, mode, "admitted").Inc()
}

// ConnectionClosed records the end of an admitted connection.
func (m *Metrics) ConnectionClosed(role, mode string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(role, mode).Dec()
	m.ConnectionsTotal.WithLabelValues(role, mode, "closed").Inc()
}

// ConnectionRejected records a connection refused before or during auth.
func (m *Metrics) ConnectionRejected(role, mode, outcome string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(role, mode, outcome).Inc()
}

// Frame records one frame.
func (m *Metrics) Frame(direction, opcode string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, opcode).Inc()
}

// MessageRouted records one routed application message.
func (m *Metrics) MessageRouted(kind, direction string) {
	if m == nil {
		return
	}
	m.MessagesRouted.WithLabelValues(typeLabel(kind), direction).Inc()
}

// FilterDrop records a whitelist rejection. Types outside the protocol
// vocabulary share one label value to bound cardinality.
func (m *Metrics) FilterDrop(direction, msgType string) {
	if m == nil {
		return
	}
	m.FilterDropped.WithLabelValues(direction, typeLabel(msgType)).Inc()
}

// AuthAttempt records an auth gate outcome.
func (m *Metrics) AuthAttempt(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// Error records an error of the given kind.
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

var knownTypes = map[string]bool{
	"auth": true, "history": true, "message": true, "chunk": true, "done": true,
	"typing": true, "error": true, "ping": true, "pong": true, "send": true,
	"subscribe": true, "response": true, "event": true, "subscribed": true,
}

func typeLabel(msgType string) string {
	switch {
	case msgType == "":
		return "invalid"
	case knownTypes[msgType]:
		return msgType
	default:
		return "other"
	}
}
