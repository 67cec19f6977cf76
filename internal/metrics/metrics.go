// Package metrics exposes Prometheus counters for mention outcomes, peer
// probes, transport messages, and verification strategies.
//
// All methods are safe to call on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

const namespace = "peermention"

// Metrics groups the counters of one process.
type Metrics struct {
	outcomes   *prometheus.CounterVec
	probes     prometheus.Counter
	messages   *prometheus.CounterVec
	strategies *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal responses by message type and reason.",
		}, []string{"type", "reason"}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visitor_probes_total",
			Help:      "Visitor probes broadcast to the peer set.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Peer messages by direction and type.",
		}, []string{"direction", "type"}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Resource retrievals by strategy and result.",
		}, []string{"strategy", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.probes, m.messages, m.strategies)
	}
	return m
}

// Outcome counts one terminal response.
func (m *Metrics) Outcome(msg types.Message) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(msg.Type), Reason(msg.Status)).Inc()
}

// Probe counts one visitor broadcast.
func (m *Metrics) Probe() {
	if m == nil {
		return
	}
	m.probes.Inc()
}

// Sent counts an outgoing peer message.
func (m *Metrics) Sent(t types.MessageType) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out", string(t)).Inc()
}

// Received counts an incoming peer message.
func (m *Metrics) Received(t types.MessageType) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in", string(t)).Inc()
}

// Retrieval counts one strategy attempt; result is "hit" or "miss".
func (m *Metrics) Retrieval(strategy, result string) {
	if m == nil {
		return
	}
	m.strategies.WithLabelValues(strategy, result).Inc()
}

// Reason maps a status text onto a short label value.
func Reason(status string) string {
	switch status {
	case types.StatusAdded:
		return "added"
	case types.StatusDeleted:
		return "deleted"
	case types.StatusTargetInvalid:
		return "target_invalid"
	case types.StatusSourceInvalid:
		return "source_invalid"
	case types.StatusBlocked:
		return "blocked"
	case types.StatusNotWritable:
		return "not_writable"
	case types.StatusNoPeer:
		return "no_peer"
	case types.StatusMentions:
		return "mentions"
	default:
		return "other"
	}
}
