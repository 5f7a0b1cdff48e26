// Package metrics — счётчики Prometheus предметной области.
// Все методы безопасны для nil-получателя: компоненты принимают
// *Metrics опционально, и тесты могут передавать nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authguard"

// Metrics — набор счётчиков сервиса.
type Metrics struct {
	rateLimit  *prometheus.CounterVec
	bruteForce *prometheus.CounterVec
	sessionOps *prometheus.CounterVec
	tokens     *prometheus.CounterVec
}

// New создаёт счётчики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by endpoint class.",
		}, []string{"endpoint", "decision"}),
		bruteForce: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bruteforce_events_total",
			Help:      "Brute-force defense events.",
		}, []string{"event"}),
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ops_total",
			Help:      "Session store operations by result.",
		}, []string{"op", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Issued tokens by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.rateLimit, m.bruteForce, m.sessionOps, m.tokens)

	return m
}

// RateLimit учитывает решение лимитера: allowed, limited, skipped или error.
func (m *Metrics) RateLimit(endpoint, decision string) {
	if m == nil {
		return
	}
	m.rateLimit.WithLabelValues(endpoint, decision).Inc()
}

// BruteForce учитывает событие: failure, success, blocked или rejected.
func (m *Metrics) BruteForce(event string) {
	if m == nil {
		return
	}
	m.bruteForce.WithLabelValues(event).Inc()
}

// SessionOp учитывает операцию над сессией.
func (m *Metrics) SessionOp(op, result string) {
	if m == nil {
		return
	}
	m.sessionOps.WithLabelValues(op, result).Inc()
}

// TokenIssued учитывает выпуск токена.
func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(kind).Inc()
}
