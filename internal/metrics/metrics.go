package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Cycle metrics
var (
	// CyclesTotal tracks scan cycles by outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_cycles_total",
			Help: "Total number of scan cycles by outcome",
		},
		[]string{"outcome"},
	)

	// CycleDuration tracks scan cycle duration
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilis_cycle_duration_seconds",
			Help:    "Scan cycle duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// CyclesInProgress is 1 while a cycle runs on this instance
	CyclesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilis_cycles_in_progress",
			Help: "Number of scan cycles currently in progress",
		},
	)

	// CyclesSkipped tracks cycles skipped because another run held the lock
	CyclesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_cycles_skipped_total",
			Help: "Total number of scan cycles skipped",
		},
		[]string{"reason"},
	)

	// ClientsSelected tracks eligibility outcomes per cycle
	ClientsSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_clients_selected_total",
			Help: "Total number of clients selected or excluded by the eligibility filter",
		},
		[]string{"decision"},
	)
)

// Probe metrics
var (
	// ProbesTotal tracks probes by verdict
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_probes_total",
			Help: "Total number of agent probes by verdict",
		},
		[]string{"verdict"},
	)

	// ProbeDuration tracks the endpoint round trip
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigilis_probe_duration_seconds",
			Help:    "Agent endpoint request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"outcome"},
	)

	// TrapsGenerated tracks trap source
	TrapsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_traps_generated_total",
			Help: "Total number of trap prompts by source",
		},
		[]string{"source"},
	)
)

// Judge metrics
var (
	// JudgeCallsTotal tracks provider calls by result
	JudgeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_judge_calls_total",
			Help: "Total number of judge provider calls by result",
		},
		[]string{"provider", "result"},
	)

	// JudgeDuration tracks provider latency
	JudgeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigilis_judge_duration_seconds",
			Help:    "Judge provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// JudgeUnavailable tracks judgments where every provider failed
	JudgeUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilis_judge_unavailable_total",
			Help: "Total number of judgments where no provider answered",
		},
	)
)

// Alert metrics
var (
	// AlertsTotal tracks alert delivery by channel and result
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_alerts_total",
			Help: "Total number of alert deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	// AlertsSuppressed tracks alerts skipped inside the suppression window
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilis_alerts_suppressed_total",
			Help: "Total number of alerts suppressed for recently alerted clients",
		},
	)
)

// Registry metrics
var (
	// RegistryOpsTotal tracks registry load/replace/publish by result
	RegistryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_registry_operations_total",
			Help: "Total number of registry operations by result",
		},
		[]string{"operation", "result"},
	)

	// RegistryClients tracks the registry size seen by the last cycle
	RegistryClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilis_registry_clients",
			Help: "Number of client records in the registry at the last cycle",
		},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks status server requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilis_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"route", "code"},
	)

	// HTTPRequestDuration tracks status server latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigilis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route"},
	)
)

// Result labels shared by the counters above.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CounterValue returns the current value of c, or 0 if it cannot be read.
// One-shot commands use it to summarize a run. Servers should scrape /metrics.
func CounterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	if metric.Counter != nil {
		return metric.Counter.GetValue()
	}
	return 0
}

// CounterVecValue returns the value of the labelled child of vec.
func CounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	return CounterValue(c)
}
