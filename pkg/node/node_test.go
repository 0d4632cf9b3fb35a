package node

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uhyunpark/hbsledger/pkg/adversary"
	"github.com/uhyunpark/hbsledger/pkg/consensus"
	"github.com/uhyunpark/hbsledger/pkg/crypto"
	"github.com/uhyunpark/hbsledger/pkg/util"
)

var allAlgs = []string{"sphincs-sim", "xmss-sim", "lms-sim"}

func newTestNode(t *testing.T, alg string) *Node {
	t.Helper()
	n, err := New("N0", alg, WithClock(util.NewManualClock(time.Unix(1700000000, 0))))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return n
}

func TestNewUnknownAlg(t *testing.T) {
	n, err := New("N0", "ed25519")
	if err == nil || n != nil {
		t.Fatalf("New(ed25519) = %v, %v; want nil node and error", n, err)
	}
}

func TestCreateBlockFields(t *testing.T) {
	n := newTestNode(t, "xmss-sim")
	data := []byte("payload")
	b, err := n.CreateBlock(7, "prev", data)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if b.Index != 7 || b.PreviousHash != "prev" || string(b.Data) != "payload" {
		t.Errorf("unexpected block header: %+v", b)
	}
	if b.Alg != "xmss-sim" || b.Producer != "N0" {
		t.Errorf("alg/producer = %s/%s", b.Alg, b.Producer)
	}
	if want := consensus.HashOfBlock(7, b.Timestamp, "prev", data); b.BlockHash != want {
		t.Errorf("block hash = %s, want %s", b.BlockHash, want)
	}
	data[0] = 'Z'
	if b.Data[0] != 'p' {
		t.Error("block aliases the caller's payload")
	}
}

func TestSelfConsistency(t *testing.T) {
	for _, alg := range allAlgs {
		t.Run(alg, func(t *testing.T) {
			n := newTestNode(t, alg)
			b, _ := n.CreateBlock(0, consensus.GenesisSentinel, []byte("XXXX"))
			if !n.VerifyBlock(b) {
				t.Fatal("freshly produced block failed verification")
			}
		})
	}
}

func TestReplayBehaviour(t *testing.T) {
	tests := []struct {
		alg        string
		wantSecond bool
	}{
		{"sphincs-sim", true},
		{"xmss-sim", false},
		{"lms-sim", false},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			n := newTestNode(t, tt.alg)
			b, _ := n.CreateBlock(1, "p", []byte("data"))

			if !n.VerifyBlock(b) {
				t.Fatal("first verification failed")
			}
			if got := n.VerifyBlock(adversary.Replay(b)); got != tt.wantSecond {
				t.Fatalf("second verification = %v, want %v", got, tt.wantSecond)
			}
			if got := n.VerifyBlock(b); got != tt.wantSecond {
				t.Fatalf("third verification = %v, want %v", got, tt.wantSecond)
			}
		})
	}
}

func TestTamperRejected(t *testing.T) {
	for _, alg := range allAlgs {
		t.Run(alg, func(t *testing.T) {
			n := newTestNode(t, alg)
			b, _ := n.CreateBlock(0, "p", []byte("data"))

			if n.VerifyBlock(adversary.Tamper(b)) {
				t.Fatal("tampered block accepted")
			}
			if n.UsedIndices() != 0 {
				t.Fatalf("failed verification mutated state: %d used", n.UsedIndices())
			}
			// a rejected tamper must not burn the index of the genuine block
			if !n.VerifyBlock(b) {
				t.Fatal("original rejected after tamper attempt")
			}
		})
	}
}

func TestTimestampNotSigned(t *testing.T) {
	n := newTestNode(t, "lms-sim")
	b, _ := n.CreateBlock(0, "p", []byte("data"))
	b.Timestamp = b.Timestamp.Add(time.Hour)
	if !n.VerifyBlock(b) {
		t.Fatal("timestamp change should not break the signature")
	}
}

func TestShortStatefulSignature(t *testing.T) {
	n := newTestNode(t, "xmss-sim")
	b, _ := n.CreateBlock(0, "p", []byte("data"))

	for _, l := range []int{0, 3, 4, 7} {
		short := b.Clone()
		short.Signature = short.Signature[:l]
		if n.VerifyBlock(short) {
			t.Errorf("signature of %d bytes accepted", l)
		}
	}
	if n.UsedIndices() != 0 {
		t.Errorf("used indices = %d, want 0", n.UsedIndices())
	}
}

func TestIndexSurvivesFailedVerification(t *testing.T) {
	s, _ := crypto.NewSigner("xmss-sim")
	n := NewWithSigner("N0", s)

	b0, _ := n.CreateBlock(0, "p", []byte("a"))
	n.VerifyBlock(adversary.Tamper(b0))
	b1, _ := n.CreateBlock(1, "p", []byte("b"))

	idx, _ := crypto.TrailingIndex(b1.Signature)
	if idx != 1 {
		t.Fatalf("second block index = %d, want 1", idx)
	}
}

func TestUnknownAlgVerifiesStateless(t *testing.T) {
	n := newTestNode(t, "sphincs-sim")
	b, _ := n.CreateBlock(0, "p", []byte("data"))
	b.Alg = "custom"
	if !n.VerifyBlock(b) || !n.VerifyBlock(b) {
		t.Fatal("unrecognised alg should take the stateless path")
	}
}

func TestConcurrentReplayAcceptsOnce(t *testing.T) {
	n := newTestNode(t, "xmss-sim")
	b, _ := n.CreateBlock(0, "p", []byte("data"))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n.VerifyBlock(adversary.Replay(b)) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("accepted %d concurrent replays, want exactly 1", got)
	}
}

func TestConcurrentSignDistinctIndices(t *testing.T) {
	s, _ := crypto.NewSigner("lms-sim")
	const workers, per = 8, 50

	var mu sync.Mutex
	seen := make(map[uint32]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				sig, _ := s.Sign([]byte("m"))
				idx, _ := crypto.TrailingIndex(sig)
				mu.Lock()
				if seen[idx] {
					t.Errorf("index %d issued twice", idx)
				}
				seen[idx] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("distinct indices = %d, want %d", len(seen), workers*per)
	}
}
