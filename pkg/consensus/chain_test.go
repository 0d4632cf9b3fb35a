package consensus_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
	"github.com/uhyunpark/hbsledger/pkg/node"
	"github.com/uhyunpark/hbsledger/pkg/storage"
	"github.com/uhyunpark/hbsledger/pkg/util"
)

type recordingWAL struct{ lines []string }

func (w *recordingWAL) Append(line string) { w.lines = append(w.lines, line) }

func newProducers(t *testing.T, alg string, n int, clock util.Clock) ([]consensus.Producer, []*node.Node) {
	t.Helper()
	var prods []consensus.Producer
	var nodes []*node.Node
	for i := 0; i < n; i++ {
		nd, err := node.New(consensus.NodeID(fmt.Sprintf("%s-Node%d", alg, i)), alg, node.WithClock(clock))
		if err != nil {
			t.Fatalf("node %d: %v", i, err)
		}
		prods = append(prods, nd)
		nodes = append(nodes, nd)
	}
	return prods, nodes
}

func TestRoundRobinElector(t *testing.T) {
	e := consensus.RoundRobinElector{N: 3}
	want := []int{0, 1, 2, 0, 1, 2, 0}
	for i, w := range want {
		if got := e.LeaderOf(uint64(i)); got != w {
			t.Errorf("LeaderOf(%d) = %d, want %d", i, got, w)
		}
	}
	if got := (consensus.RoundRobinElector{}).LeaderOf(4); got != -1 {
		t.Errorf("empty elector = %d, want -1", got)
	}
}

func TestRunRoundsLinkage(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1700000000, 0))
	prods, _ := newProducers(t, "xmss-sim", 3, clock)
	cb := consensus.NewChainBuilder(prods,
		consensus.WithDelay(consensus.DelayRange{Min: 10 * time.Millisecond, Max: 30 * time.Millisecond}, clock, 42))

	blocks, err := cb.RunRounds(context.Background(), 6, 16)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(blocks) != 6 {
		t.Fatalf("len = %d, want 6", len(blocks))
	}
	if blocks[0].PreviousHash != consensus.GenesisSentinel {
		t.Fatalf("block 0 previous hash = %s", blocks[0].PreviousHash)
	}
	for i := 1; i < len(blocks); i++ {
		if want := consensus.LinkDigest(blocks[i-1]); blocks[i].PreviousHash != want {
			t.Fatalf("block %d previous hash = %s, want %s", i, blocks[i].PreviousHash, want)
		}
		// linkage is not on block_hash
		if blocks[i].PreviousHash == blocks[i-1].BlockHash {
			t.Fatalf("block %d linked on block_hash", i)
		}
	}
	for i, b := range blocks {
		if b.Index != uint64(i) {
			t.Errorf("block %d index = %d", i, b.Index)
		}
		if want := prods[i%3].ID(); b.Producer != want {
			t.Errorf("block %d producer = %s, want %s", i, b.Producer, want)
		}
		if string(b.Data) != strings.Repeat("X", 16) {
			t.Errorf("block %d payload = %q", i, b.Data)
		}
	}
}

func TestRunRoundsDelayWithinRange(t *testing.T) {
	clock := util.NewManualClock(time.Unix(0, 0))
	prods, _ := newProducers(t, "sphincs-sim", 2, clock)
	d := consensus.DelayRange{Min: 5 * time.Millisecond, Max: 9 * time.Millisecond}
	cb := consensus.NewChainBuilder(prods, consensus.WithDelay(d, clock, 7))

	if _, err := cb.RunRounds(context.Background(), 20, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	slept := clock.Slept()
	if len(slept) != 20 {
		t.Fatalf("sleeps = %d, want 20", len(slept))
	}
	for _, s := range slept {
		if s < d.Min || s > d.Max {
			t.Errorf("delay %s outside [%s, %s]", s, d.Min, d.Max)
		}
	}
}

func TestRunRoundsBlockHashLink(t *testing.T) {
	clock := util.NewManualClock(time.Unix(0, 0))
	prods, _ := newProducers(t, "lms-sim", 1, clock)
	cb := consensus.NewChainBuilder(prods,
		consensus.WithDelay(consensus.DelayRange{}, clock, 1),
		consensus.WithLink(consensus.BlockHashLink, consensus.SoloGenesis),
		consensus.WithFiller('Z'))

	blocks, err := cb.RunRounds(context.Background(), 4, 8)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(blocks[3].Data) != "ZZZZZZZZ" {
		t.Fatalf("payload = %q", blocks[3].Data)
	}
	if blocks[0].PreviousHash != "GENESIS" {
		t.Fatalf("genesis = %s", blocks[0].PreviousHash)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].PreviousHash != blocks[i-1].BlockHash {
			t.Fatalf("block %d not linked on block_hash", i)
		}
	}
}

func TestRunRoundsStoreAndWAL(t *testing.T) {
	clock := util.NewManualClock(time.Unix(0, 0))
	prods, _ := newProducers(t, "xmss-sim", 2, clock)
	store := storage.NewInMemoryBlockStore()
	wal := &recordingWAL{}
	var events []consensus.BlockEvent
	cb := consensus.NewChainBuilder(prods,
		consensus.WithDelay(consensus.DelayRange{}, clock, 1),
		consensus.WithStore(store),
		consensus.WithWAL(wal),
		consensus.WithObserver(func(ev consensus.BlockEvent) { events = append(events, ev) }))

	blocks, err := cb.RunRounds(context.Background(), 3, 4)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.Len() != 3 || len(wal.lines) != 3 || len(events) != 3 {
		t.Fatalf("store=%d wal=%d events=%d, want 3 each", store.Len(), len(wal.lines), len(events))
	}
	got, ok, err := store.GetBlock(2)
	if err != nil || !ok || got.BlockHash != blocks[2].BlockHash {
		t.Fatalf("stored block 2 = %+v, %v, %v", got, ok, err)
	}
	if !strings.HasPrefix(wal.lines[0], "produce round=0 producer=xmss-sim-Node0") {
		t.Errorf("wal line = %q", wal.lines[0])
	}
	if events[1].LinkHash != blocks[2].PreviousHash {
		t.Error("event link hash does not match next previous hash")
	}
}

func TestRunRoundsErrors(t *testing.T) {
	cb := consensus.NewChainBuilder(nil)
	if _, err := cb.RunRounds(context.Background(), 1, 1); !errors.Is(err, consensus.ErrNoProducers) {
		t.Fatalf("err = %v, want ErrNoProducers", err)
	}

	clock := util.NewManualClock(time.Unix(0, 0))
	prods, _ := newProducers(t, "sphincs-sim", 1, clock)
	cb = consensus.NewChainBuilder(prods, consensus.WithDelay(consensus.DelayRange{}, clock, 1))
	if _, err := cb.RunRounds(context.Background(), 1, -1); err == nil {
		t.Fatal("expected error for negative payload")
	}
	blocks, err := cb.RunRounds(context.Background(), 0, 1)
	if err != nil || len(blocks) != 0 {
		t.Fatalf("zero rounds = %d blocks, %v", len(blocks), err)
	}
}

func TestRunRoundsCancelled(t *testing.T) {
	prods, _ := newProducers(t, "sphincs-sim", 1, util.RealClock{})
	cb := consensus.NewChainBuilder(prods,
		consensus.WithDelay(consensus.DelayRange{Min: time.Second, Max: time.Second}, util.RealClock{}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocks, err := cb.RunRounds(ctx, 5, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want 0", len(blocks))
	}
}

func TestDelayRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	fixed := consensus.DelayRange{Min: 3 * time.Millisecond, Max: 3 * time.Millisecond}
	if got := fixed.Draw(rng); got != 3*time.Millisecond {
		t.Errorf("fixed draw = %s", got)
	}
	if err := (consensus.DelayRange{Min: 2, Max: 1}).Validate(); err == nil {
		t.Error("expected error for inverted range")
	}
	if err := (consensus.DelayRange{Min: -1, Max: 1}).Validate(); err == nil {
		t.Error("expected error for negative range")
	}
}

func TestHashFormulasDiffer(t *testing.T) {
	ts := time.Unix(1700000000, 123)
	b := consensus.Block{Index: 1, Timestamp: ts, PreviousHash: "p", Data: []byte("d")}
	b.BlockHash = consensus.HashOfBlock(b.Index, ts, b.PreviousHash, b.Data)

	if b.BlockHash == consensus.LinkDigest(b) {
		t.Fatal("link digest and block hash must be distinct formulas")
	}
	other := b
	other.PreviousHash = "q"
	if consensus.LinkDigest(other) != consensus.LinkDigest(b) {
		t.Error("link digest must not cover previous hash")
	}
	if string(consensus.SigningMessage(1, "p", []byte("d"))) != "1|p|d" {
		t.Error("unexpected signing message layout")
	}
}
