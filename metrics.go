package rp

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts login flow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	callbacks *prometheus.CounterVec
}

// NewMetrics registers the flow counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rp_login_requests_total",
			Help: "Count of login initiations, by result.",
		}, []string{"result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rp_callbacks_total",
			Help: "Count of authorization callbacks, by terminal state and failure kind.",
		}, []string{"state", "kind"}),
	}

	for _, c := range []prometheus.Collector{m.logins, m.callbacks} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering flow metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) loginStarted(ok bool) {
	if m == nil {
		return
	}
	result := "redirected"
	if !ok {
		result = "failed"
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) callbackFinished(state CallbackState, kind ExchangeErrorKind) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(state.String(), string(kind)).Inc()
}
