package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamed0406/speedmon/internal/domain"
)

var rateBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	probeRuns      *prometheus.CounterVec
	probeRate      *prometheus.HistogramVec
	uploadSessions *prometheus.CounterVec
	cycles         *prometheus.CounterVec
	alertDecisions *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. Collectors that are
// already registered (a second New on the same registry) are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedmon",
			Subsystem: "probe",
			Name:      "runs_total",
			Help:      "Probe runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		probeRate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "speedmon",
			Subsystem: "probe",
			Name:      "rate_mbps",
			Help:      "Measured throughput of successful probe runs",
			Buckets:   rateBuckets,
		}, []string{"kind"}),
		uploadSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedmon",
			Subsystem: "probe",
			Name:      "upload_sessions_total",
			Help:      "Upload sessions by outcome",
		}, []string{"outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedmon",
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Finished monitoring cycles by kind and terminal state",
		}, []string{"kind", "state"}),
		alertDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedmon",
			Subsystem: "monitor",
			Name:      "alert_decisions_total",
			Help:      "Alert decisions taken at the end of a cycle",
		}, []string{"decision"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedmon",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Alert dispatch attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m
	}
	m.probeRuns = register(reg, m.probeRuns)
	m.probeRate = register(reg, m.probeRate)
	m.uploadSessions = register(reg, m.uploadSessions)
	m.cycles = register(reg, m.cycles)
	m.alertDecisions = register(reg, m.alertDecisions)
	m.notifications = register(reg, m.notifications)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func outcome(ek domain.ErrorKind) string {
	if ek == domain.ErrKindNone {
		return "ok"
	}
	return string(ek)
}

func (m *Metrics) ObserveProbe(r domain.MeasurementResult) {
	if m == nil {
		return
	}
	m.probeRuns.WithLabelValues(string(r.Kind), outcome(r.Error)).Inc()
	if r.OK() {
		m.probeRate.WithLabelValues(string(r.Kind)).Observe(r.RateMbps)
	}
}

func (m *Metrics) ObserveUploadSession(ek domain.ErrorKind) {
	if m == nil {
		return
	}
	m.uploadSessions.WithLabelValues(outcome(ek)).Inc()
}

func (m *Metrics) ObserveCycle(kind domain.Kind, state domain.CycleState) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(kind), string(state)).Inc()
}

func (m *Metrics) ObserveDecision(d domain.AlertDecision) {
	if m == nil {
		return
	}
	m.alertDecisions.WithLabelValues(string(d)).Inc()
}

// ObserveDispatch counts a dispatch attempt; err is the value Dispatch returned.
func (m *Metrics) ObserveDispatch(err error) {
	if m == nil {
		return
	}
	label := "sent"
	if err != nil {
		label = string(domain.KindOf(err))
	}
	m.notifications.WithLabelValues(label).Inc()
}
