package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Histogram buckets for per-block verification latency.
var verifyBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01}

// Collectors live on a private registry so parallel tests and multiple
// servers never collide on the global one.
type Collectors struct {
	Registry *prometheus.Registry

	BlocksProduced      *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
	VerifyLatency       *prometheus.HistogramVec
	SignatureBytes      *prometheus.GaugeVec
	AdversarialRejected *prometheus.CounterVec
	RunsCompleted       prometheus.Counter
}

func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		BlocksProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hbs_blocks_produced_total",
			Help: "Blocks produced by the chain builder",
		}, []string{"alg"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hbs_verifications_total",
			Help: "Block verifications by outcome",
		}, []string{"alg", "result"}),
		VerifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hbs_verify_duration_seconds",
			Help:    "Time taken to verify one block",
			Buckets: verifyBuckets,
		}, []string{"alg"}),
		SignatureBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hbs_signature_bytes",
			Help: "Signature size of the last verified block",
		}, []string{"alg"}),
		AdversarialRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hbs_adversarial_rejected_total",
			Help: "Attack variants rejected by verification",
		}, []string{"alg", "attack"}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hbs_runs_completed_total",
			Help: "Experiment runs completed",
		}),
	}
	c.Registry.MustRegister(
		c.BlocksProduced,
		c.Verifications,
		c.VerifyLatency,
		c.SignatureBytes,
		c.AdversarialRejected,
		c.RunsCompleted,
	)
	return c
}

func (c *Collectors) ObserveVerify(alg string, d time.Duration, ok bool) {
	result := "reject"
	if ok {
		result = "accept"
	}
	c.Verifications.WithLabelValues(alg, result).Inc()
	c.VerifyLatency.WithLabelValues(alg).Observe(d.Seconds())
}
