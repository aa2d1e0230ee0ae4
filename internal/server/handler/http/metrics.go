package http

import (
	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics counts account operations by outcome.
type AuthMetrics struct {
	Outcomes *prometheus.CounterVec
}

// NewAuthMetrics registers the outcome counter with reg.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cargodesk",
		Subsystem: "auth",
		Name:      "outcomes_total",
		Help:      "Account operations by operation and result code.",
	}, []string{"operation", "result"})
	if err := reg.Register(outcomes); err != nil {
		return nil, err
	}
	return &AuthMetrics{Outcomes: outcomes}, nil
}

func (m *AuthMetrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = autherr.KindOf(err).String()
	}
	m.Outcomes.WithLabelValues(operation, result).Inc()
}
