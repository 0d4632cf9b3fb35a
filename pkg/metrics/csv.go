package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	BlockMetricsFile    = "blockchain_metrics.csv"
	VerificationLogFile = "verification_log.csv"
)

var blockHeader = []string{
	"exp_tag", "run_id", "alg", "index", "timestamp", "producer", "nodes", "rounds",
	"payload_bytes", "block_size", "previous_hash", "block_hash", "verify_time_sec", "valid",
}

var verificationHeader = []string{
	"timestamp", "run_id", "exp_tag", "alg", "payload_bytes", "nodes", "rounds", "kind",
	"tps", "p50_ms", "p95_ms", "valid_ratio", "details",
}

// CSVSink appends rows to the two CSV logs in Dir, writing each header only
// when its file is created.
type CSVSink struct {
	Dir string
	Now func() time.Time

	mu sync.Mutex
}

func NewCSVSink(dir string) *CSVSink { return &CSVSink{Dir: dir, Now: time.Now} }

func (c *CSVSink) WriteBlockRows(rows []BlockRow) error {
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, []string{
			r.Run.ExpTag,
			r.Run.RunID,
			r.Run.Alg,
			strconv.FormatUint(r.Index, 10),
			unixSeconds(r.Timestamp, 6),
			string(r.Producer),
			strconv.Itoa(r.Run.Nodes),
			strconv.Itoa(r.Run.Rounds),
			strconv.Itoa(r.Run.PayloadBytes),
			strconv.Itoa(r.BlockSize),
			r.PreviousHash,
			r.BlockHash,
			strconv.FormatFloat(r.VerifyTime.Seconds(), 'f', 9, 64),
			pyBool(r.Valid),
		})
	}
	return c.append(BlockMetricsFile, blockHeader, recs)
}

func (c *CSVSink) WriteSummary(run RunInfo, s Summary) error {
	rec := c.verificationPrefix(run, "summary")
	rec = append(rec,
		fixed(s.TPS), fixed(s.P50Ms), fixed(s.P95Ms), fixed(s.ValidRatio), "")
	return c.append(VerificationLogFile, verificationHeader, [][]string{rec})
}

func (c *CSVSink) WriteAdversarial(run RunInfo, a Adversarial) error {
	rec := c.verificationPrefix(run, "adversarial")
	rec = append(rec, "", "", "", "", a.Details())
	return c.append(VerificationLogFile, verificationHeader, [][]string{rec})
}

func (c *CSVSink) verificationPrefix(run RunInfo, kind string) []string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return []string{
		unixSeconds(now(), 3),
		run.RunID,
		run.ExpTag,
		run.Alg,
		strconv.Itoa(run.PayloadBytes),
		strconv.Itoa(run.Nodes),
		strconv.Itoa(run.Rounds),
		kind,
	}
}

func (c *CSVSink) append(name string, header []string, recs [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.Dir, name)
	_, statErr := os.Stat(path)
	needHeader := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("%s header: %w", name, err)
		}
	}
	if err := w.WriteAll(recs); err != nil {
		f.Close()
		return fmt.Errorf("%s rows: %w", name, err)
	}
	return f.Close()
}

func unixSeconds(t time.Time, prec int) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', prec, 64)
}

func fixed(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

var _ Sink = (*CSVSink)(nil)
