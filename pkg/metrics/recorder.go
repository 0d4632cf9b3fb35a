package metrics

import (
	"fmt"
	"time"

	"github.com/uhyunpark/hbsledger/pkg/consensus"

	"go.uber.org/zap"
)

type Verifier interface {
	VerifyBlock(b consensus.Block) bool
}

// ProducerVerifier sends each block to the node that produced it. Blocks from
// unknown producers fail verification.
type ProducerVerifier map[consensus.NodeID]Verifier

func (p ProducerVerifier) VerifyBlock(b consensus.Block) bool {
	v, ok := p[b.Producer]
	if !ok {
		return false
	}
	return v.VerifyBlock(b)
}

// RunInfo identifies one experiment run in every emitted row.
type RunInfo struct {
	RunID        string
	ExpTag       string
	Alg          string
	Nodes        int
	Rounds       int
	PayloadBytes int
}

type BlockRow struct {
	Run          RunInfo
	Index        uint64
	Timestamp    time.Time
	Producer     consensus.NodeID
	BlockSize    int
	PreviousHash string
	BlockHash    string
	VerifyTime   time.Duration
	Valid        bool
}

type Summary struct {
	TPS        float64 `json:"tps"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	ValidRatio float64 `json:"valid_ratio"`
	Valid      int     `json:"valid"`
	Total      int     `json:"total"`
}

type Adversarial struct {
	TamperTotal    int `json:"tamper_total"`
	TamperRejected int `json:"tamper_rejected"`
	ReplayTotal    int `json:"replay_total"`
	ReplayRejected int `json:"replay_rejected"`
}

func (a Adversarial) Details() string {
	return fmt.Sprintf("tamper_total=%d;tamper_rejected=%d;replay_total=%d;replay_rejected=%d",
		a.TamperTotal, a.TamperRejected, a.ReplayTotal, a.ReplayRejected)
}

// Sink persists rows produced by the recorder.
type Sink interface {
	WriteBlockRows(rows []BlockRow) error
	WriteSummary(run RunInfo, s Summary) error
	WriteAdversarial(run RunInfo, a Adversarial) error
}

type Recorder struct {
	Sink   Sink        // optional
	Prom   *Collectors // optional
	Logger *zap.SugaredLogger
}

// Record verifies every block once through v, timing each call.
func (r *Recorder) Record(run RunInfo, blocks []consensus.Block, v Verifier) (Summary, []BlockRow, error) {
	rows := make([]BlockRow, 0, len(blocks))
	times := make([]time.Duration, 0, len(blocks))
	var total time.Duration
	valid := 0

	for _, b := range blocks {
		t0 := time.Now()
		ok := v.VerifyBlock(b)
		dt := time.Since(t0)

		times = append(times, dt)
		total += dt
		if ok {
			valid++
		}
		rows = append(rows, BlockRow{
			Run:          run,
			Index:        b.Index,
			Timestamp:    b.Timestamp,
			Producer:     b.Producer,
			BlockSize:    b.Size(),
			PreviousHash: b.PreviousHash,
			BlockHash:    b.BlockHash,
			VerifyTime:   dt,
			Valid:        ok,
		})
		if r.Prom != nil {
			r.Prom.ObserveVerify(b.Alg, dt, ok)
			r.Prom.SignatureBytes.WithLabelValues(b.Alg).Set(float64(len(b.Signature)))
		}
	}

	s := Summarize(times, total, valid)
	if r.Sink != nil {
		if err := r.Sink.WriteBlockRows(rows); err != nil {
			return s, rows, fmt.Errorf("write block rows: %w", err)
		}
		if err := r.Sink.WriteSummary(run, s); err != nil {
			return s, rows, fmt.Errorf("write summary: %w", err)
		}
	}
	if r.Logger != nil {
		r.Logger.Infow("run_metrics", "run_id", run.RunID, "alg", run.Alg, "blocks", len(blocks),
			"tps", s.TPS, "p50_ms", s.P50Ms, "p95_ms", s.P95Ms, "valid_ratio", s.ValidRatio)
	}
	return s, rows, nil
}

// RecordAdversarial persists the outcome of an adversarial pass.
func (r *Recorder) RecordAdversarial(run RunInfo, a Adversarial) error {
	if r.Prom != nil {
		r.Prom.AdversarialRejected.WithLabelValues(run.Alg, "tamper").Add(float64(a.TamperRejected))
		r.Prom.AdversarialRejected.WithLabelValues(run.Alg, "replay").Add(float64(a.ReplayRejected))
	}
	if r.Sink == nil {
		return nil
	}
	return r.Sink.WriteAdversarial(run, a)
}

// Summarize reduces per-block verification times to the run summary.
func Summarize(times []time.Duration, total time.Duration, valid int) Summary {
	sorted := sortedSeconds(times)
	secs := total.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	n := len(times)
	return Summary{
		TPS:        float64(n) / secs,
		P50Ms:      Median(sorted) * 1000,
		P95Ms:      Percentile95(sorted) * 1000,
		ValidRatio: float64(valid) / float64(max(1, n)),
		Valid:      valid,
		Total:      n,
	}
}
