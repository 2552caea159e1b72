package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики движка.
//
// Все методы безопасны для nil-получателя: компоненты, созданные
// без метрик (тесты, CLI), просто ничего не записывают.
type Metrics struct {
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	activeRuns     prometheus.Gauge
	stepAttempts   *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	routeDecisions *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	schedulesFired prometheus.Counter
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "conduit_runs_started_total",
			Help: "Runs taken for execution (including resumed runs)",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_runs_finished_total",
			Help: "Runs finished, by terminal status",
		}, []string{"status"}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "conduit_active_runs",
			Help: "Runs currently executed by this process",
		}),
		stepAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_step_attempts_total",
			Help: "Step invocation attempts, by step type and outcome",
		}, []string{"step_type", "outcome"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_step_duration_seconds",
			Help:    "Duration of a single step attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"step_type"}),
		routeDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_route_decisions_total",
			Help: "Routing decisions, by rule",
		}, []string{"rule"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_http_requests_total",
			Help: "HTTP requests handled, by method and status code class",
		}, []string{"method", "code"}),
		schedulesFired: f.NewCounter(prometheus.CounterOpts{
			Name: "conduit_schedules_fired_total",
			Help: "Runs submitted by the scheduler",
		}),
	}
}

// RunStarted увеличивает счётчик запущенных runs.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished учитывает завершение run с заданным статусом.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.activeRuns.Dec()
}

// RunSuspended учитывает run, который отпущен без завершения (shutdown).
func (m *Metrics) RunSuspended() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

// StepAttempt учитывает одну попытку шага.
func (m *Metrics) StepAttempt(stepType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepAttempts.WithLabelValues(stepType, outcome).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// RouteDecision учитывает решение маршрутизации.
func (m *Metrics) RouteDecision(rule string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(rule).Inc()
}

// HTTPRequest учитывает обработанный HTTP запрос.
func (m *Metrics) HTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
}

// ScheduleFired учитывает run, созданный по расписанию.
func (m *Metrics) ScheduleFired() {
	if m == nil {
		return
	}
	m.schedulesFired.Inc()
}
