// Package node wraps a signer, creates and verifies blocks, and enforces
// anti-replay for stateful schemes.
package node

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
	"github.com/uhyunpark/hbsledger/pkg/crypto"
	"github.com/uhyunpark/hbsledger/pkg/util"

	"go.uber.org/zap"
)

type Node struct {
	id     consensus.NodeID
	signer crypto.Signer
	clock  util.Clock

	Logger *zap.SugaredLogger

	signerOpts []crypto.Option

	// mu serialises the replay check and the insert in VerifyBlock.
	mu   sync.Mutex
	used map[uint32]struct{}
}

type Option func(*Node)

func WithClock(c util.Clock) Option { return func(n *Node) { n.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(n *Node) { n.Logger = l } }

// WithSignerOptions is passed through to crypto.NewSigner by New.
func WithSignerOptions(opts ...crypto.Option) Option {
	return func(n *Node) { n.signerOpts = append(n.signerOpts, opts...) }
}

// New creates a node with an owned signer for alg. Unknown algorithms are
// fatal for this node: no Node is returned.
func New(id consensus.NodeID, alg string, opts ...Option) (*Node, error) {
	n := newNode(id, opts)
	s, err := crypto.NewSigner(alg, n.signerOpts...)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	n.signer = s
	return n, nil
}

// NewWithSigner takes exclusive ownership of s.
func NewWithSigner(id consensus.NodeID, s crypto.Signer, opts ...Option) *Node {
	n := newNode(id, opts)
	n.signer = s
	return n
}

func newNode(id consensus.NodeID, opts []Option) *Node {
	n := &Node{
		id:    id,
		clock: util.RealClock{},
		used:  make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Node) ID() consensus.NodeID { return n.id }

func (n *Node) Alg() crypto.Alg { return n.signer.Alg() }

func (n *Node) PublicKey() []byte { return n.signer.PublicKey() }

// CreateBlock signs "index|previous_hash|data" and stamps the block with a
// fresh timestamp that block_hash covers but the signature does not.
func (n *Node) CreateBlock(index uint64, previousHash string, data []byte) (consensus.Block, error) {
	ts := n.clock.Now()
	msg := consensus.SigningMessage(index, previousHash, data)
	sig, err := n.signer.Sign(msg)
	if err != nil {
		return consensus.Block{}, fmt.Errorf("sign block %d: %w", index, err)
	}
	return consensus.Block{
		Index:        index,
		Timestamp:    ts,
		PreviousHash: previousHash,
		Data:         append([]byte(nil), data...),
		Signature:    sig,
		PublicKey:    n.signer.PublicKey(),
		Alg:          n.signer.Alg().String(),
		Producer:     n.id,
		BlockHash:    consensus.HashOfBlock(index, ts, previousHash, data),
	}, nil
}

// VerifyBlock recomputes the tag over the block's signed fields. For stateful
// algorithms the embedded index must not have been accepted before on this
// node; a successful verification consumes it. All failures report false.
func (n *Node) VerifyBlock(b consensus.Block) bool {
	msg := consensus.SigningMessage(b.Index, b.PreviousHash, b.Data)

	alg, err := crypto.ParseAlg(b.Alg)
	if err != nil || !alg.Stateful() {
		ok := len(b.Signature) >= crypto.TagSize &&
			bytes.Equal(b.Signature[:crypto.TagSize], crypto.Tag(b.PublicKey, msg))
		n.trace(b, ok, "stateless")
		return ok
	}

	idx, ok := crypto.TrailingIndex(b.Signature)
	if !ok {
		n.trace(b, false, "short_signature")
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, seen := n.used[idx]; seen {
		n.trace(b, false, "replay")
		return false
	}
	if len(b.Signature) < crypto.TagSize ||
		!bytes.Equal(b.Signature[:crypto.TagSize], crypto.IndexedTag(b.PublicKey, msg, idx)) {
		n.trace(b, false, "tag_mismatch")
		return false
	}
	n.used[idx] = struct{}{}
	n.trace(b, true, "stateful")
	return true
}

// UsedIndices reports how many stateful indices this node has accepted.
func (n *Node) UsedIndices() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.used)
}

func (n *Node) trace(b consensus.Block, ok bool, path string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Debugw("verify_block", "node", n.id, "index", b.Index, "producer", b.Producer,
		"alg", b.Alg, "ok", ok, "path", path)
}

var _ consensus.Producer = (*Node)(nil)
