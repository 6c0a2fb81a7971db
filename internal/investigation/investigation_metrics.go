package investigation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the investigation subsystem.
type Metrics struct {
	InvestigationsTotal   *prometheus.CounterVec
	InvestigationDuration *prometheus.HistogramVec
	InvestigationLoops    prometheus.Histogram
	InvestigationQueries  prometheus.Histogram
	StageRunsTotal        *prometheus.CounterVec
	StageDuration         *prometheus.HistogramVec
	LoopBacksTotal        *prometheus.CounterVec
	RequestsTotal         *prometheus.CounterVec
	NotificationsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns investigation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_investigations_total",
			Help: "Total investigation runs by outcome.",
		}, []string{"outcome"}),
		InvestigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_investigation_duration_seconds",
			Help:    "Duration of investigation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"outcome"}),
		InvestigationLoops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_investigation_loops",
			Help:    "Loop-backs executed per investigation run.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
		InvestigationQueries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_investigation_queries",
			Help:    "Evidence queries executed per investigation run.",
			Buckets: prometheus.LinearBuckets(0, 5, 10), // 0 .. 45
		}),
		StageRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_stage_runs_total",
			Help: "Total stage executions by stage and result.",
		}, []string{"stage", "result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_stage_duration_seconds",
			Help:    "Duration of stage executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"stage"}),
		LoopBacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_loop_backs_total",
			Help: "Total loop-backs to ingestion by originating stage.",
		}, []string{"stage"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_investigation_requests_total",
			Help: "Total investigation requests by result.",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_notifications_total",
			Help: "Total result notifications by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.InvestigationsTotal,
		m.InvestigationDuration,
		m.InvestigationLoops,
		m.InvestigationQueries,
		m.StageRunsTotal,
		m.StageDuration,
		m.LoopBacksTotal,
		m.RequestsTotal,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns WorkflowHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() WorkflowHooks {
	return WorkflowHooks{
		OnStage: func(stage string, duration float64, success bool) {
			result := "success"
			if !success {
				result = "unsuccessful"
			}
			m.StageRunsTotal.WithLabelValues(stage, result).Inc()
			m.StageDuration.WithLabelValues(stage).Observe(duration)
		},
		OnLoopBack: func(from string) {
			m.LoopBacksTotal.WithLabelValues(from).Inc()
		},
	}
}

func (m *Metrics) observeResult(r *Result) {
	if m == nil {
		return
	}
	m.InvestigationsTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.InvestigationDuration.WithLabelValues(string(r.Outcome)).Observe(r.Duration)
	m.InvestigationLoops.Observe(float64(r.LoopsExecuted))
	m.InvestigationQueries.Observe(float64(r.TotalQueries))
}

func (m *Metrics) request(result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) notification(status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}
