package incidents

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations    *prometheus.CounterVec
	ReportsWritten   prometheus.Counter
	ReportFailures   prometheus.Counter
	RegisterFailures prometheus.Counter
	StaleResets      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_registrations_total",
			Help: "Registered failure occurrences by resulting level.",
		}, []string{"level"}),
		ReportsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "incident_reports_written_total",
			Help: "Markdown incident reports written.",
		}),
		ReportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "incident_report_failures_total",
			Help: "Incident reports that could not be written.",
		}),
		RegisterFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "incident_register_failures_total",
			Help: "Registrations that failed in the state store.",
		}),
		StaleResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "incident_stale_resets_total",
			Help: "Fingerprints forced back to level 0 after silence.",
		}),
	}
}

func (m *Metrics) observeRegistration(level int) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) observeReport(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReportFailures.Inc()
		return
	}
	m.ReportsWritten.Inc()
}

func (m *Metrics) observeRegisterFailure() {
	if m == nil {
		return
	}
	m.RegisterFailures.Inc()
}

func (m *Metrics) observeStaleResets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleResets.Add(float64(n))
}
