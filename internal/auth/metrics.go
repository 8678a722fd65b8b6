package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts auth outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	TwoFactorEvents *prometheus.CounterVec
	SessionsIssued  prometheus.Counter
	SessionsRevoked prometheus.Counter
}

// NewMetrics registers the auth collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoginAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		TwoFactorEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "two_factor_events_total",
				Help:      "Two-factor operations by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		SessionsIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "sessions_issued_total",
				Help:      "Sessions created",
			},
		),
		SessionsRevoked: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "sessions_revoked_total",
				Help:      "Sessions revoked by logout or admin action",
			},
		),
	}
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) twoFactor(event, outcome string) {
	if m == nil {
		return
	}
	m.TwoFactorEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) sessionIssued() {
	if m == nil {
		return
	}
	m.SessionsIssued.Inc()
}

func (m *Metrics) sessionsRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevoked.Add(float64(n))
}
