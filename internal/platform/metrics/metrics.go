package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the verifier's Prometheus collectors.
type Metrics struct {
	Verifications   *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	LedgerRequests  *prometheus.CounterVec
	LedgerLatency   *prometheus.HistogramVec
	ChallengesSpent prometheus.Counter
	CircuitState    *prometheus.GaugeVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "web3id_verifier_verifications_total",
			Help: "Presentations processed, labeled by verdict",
		}, []string{"verdict"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "web3id_verifier_rejections_total",
			Help: "Rejected presentations, labeled by pipeline stage and reason",
		}, []string{"stage", "reason"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "web3id_verifier_stage_latency_seconds",
			Help:    "Latency of each verification stage in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		LedgerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "web3id_verifier_ledger_requests_total",
			Help: "Node queries, labeled by method and outcome",
		}, []string{"method", "outcome"}),
		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "web3id_verifier_ledger_latency_seconds",
			Help:    "Latency of node queries in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method"}),
		ChallengesSpent: f.NewCounter(prometheus.CounterOpts{
			Name: "web3id_verifier_challenges_consumed_total",
			Help: "Challenges recorded by the replay guard",
		}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "web3id_verifier_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}
}

func (m *Metrics) ObserveVerdict(verdict string) {
	m.Verifications.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveRejection(stage, reason string) {
	m.Rejections.WithLabelValues(stage, reason).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveLedgerCall(method, outcome string, d time.Duration) {
	m.LedgerRequests.WithLabelValues(method, outcome).Inc()
	m.LedgerLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) IncrementChallengesConsumed() {
	m.ChallengesSpent.Inc()
}

func (m *Metrics) SetCircuitState(name string, state int) {
	m.CircuitState.WithLabelValues(name).Set(float64(state))
}
