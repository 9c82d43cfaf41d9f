// Package metrics метрики Prometheus для сессий и guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics набор метрик сервиса. Реализует session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	guardDecisions *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	staleResults   prometheus.Counter
	liveSessions   prometheus.Gauge
}

// New регистрирует метрики в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devmanager",
			Name:      "guard_decisions_total",
			Help:      "Route guard decisions by protected region and outcome.",
		}, []string{"region", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devmanager",
			Name:      "profile_fetch_duration_seconds",
			Help:      "Duration of profile and subscription fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devmanager",
			Name:      "profile_fetch_stale_total",
			Help:      "Profile fetch results discarded because a newer fetch was issued.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devmanager",
			Name:      "browser_sessions",
			Help:      "Browser sessions with a live resolver.",
		}),
	}
	m.registry.MustRegister(
		m.guardDecisions,
		m.fetchDuration,
		m.staleResults,
		m.liveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler отдаёт метрики для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GuardDecision учитывает решение guard.
func (m *Metrics) GuardDecision(region, outcome string) {
	m.guardDecisions.WithLabelValues(region, outcome).Inc()
}

// FetchObserved учитывает длительность загрузки профиля.
func (m *Metrics) FetchObserved(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// StaleDiscarded учитывает отброшенный устаревший результат.
func (m *Metrics) StaleDiscarded() {
	m.staleResults.Inc()
}

// SessionsChanged выставляет число живых сессий.
func (m *Metrics) SessionsChanged(live int) {
	m.liveSessions.Set(float64(live))
}
