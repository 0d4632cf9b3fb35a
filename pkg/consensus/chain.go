package consensus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uhyunpark/hbsledger/pkg/util"

	"go.uber.org/zap"
)

var ErrNoProducers = errors.New("no producers")

var (
	// GenesisSentinel is previous_hash of block 0 when linking with LinkDigest.
	GenesisSentinel = strings.Repeat("0", 64)
	// SoloGenesis is previous_hash of block 0 when linking with BlockHashLink.
	SoloGenesis = "GENESIS"
)

// LinkFunc computes the value the next block stores as previous_hash.
type LinkFunc func(b Block) string

// LinkDigest is the chain-builder link: hex SHA-256 of "{index}{timestamp}{data}".
// It intentionally differs from HashOfBlock (no separators, no previous hash),
// so the chain links on this value rather than on Block.BlockHash.
func LinkDigest(b Block) string {
	h := sha256.New()
	h.Write(strconv.AppendUint(nil, b.Index, 10))
	h.Write([]byte(timestampText(b.Timestamp)))
	h.Write(b.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// BlockHashLink links on the block's own block_hash field.
func BlockHashLink(b Block) string { return b.BlockHash }

// BlockEvent is emitted after each block is appended.
type BlockEvent struct {
	Round    uint64
	Block    Block
	LinkHash string
	Delay    time.Duration
}

type ChainBuilder struct {
	Producers []Producer
	Elector   LeaderElector
	PM        *Pacemaker
	Link      LinkFunc
	Genesis   string
	Filler    byte

	Logger *zap.SugaredLogger

	// Optional: pluggable storage/WAL
	Store BlockStore
	WAL   WAL

	// OnBlock, if set, observes every appended block.
	OnBlock func(ev BlockEvent)
}

type BuilderOption func(*ChainBuilder)

func WithDelay(d DelayRange, clock util.Clock, seed uint64) BuilderOption {
	return func(c *ChainBuilder) { c.PM = NewPacemaker(d, clock, seed) }
}

// WithLink replaces the link function and the genesis sentinel together.
func WithLink(link LinkFunc, genesis string) BuilderOption {
	return func(c *ChainBuilder) {
		c.Link = link
		c.Genesis = genesis
	}
}

// WithFiller sets the byte the synthetic payload is made of.
func WithFiller(b byte) BuilderOption { return func(c *ChainBuilder) { c.Filler = b } }

func WithStore(s BlockStore) BuilderOption { return func(c *ChainBuilder) { c.Store = s } }

func WithWAL(w WAL) BuilderOption { return func(c *ChainBuilder) { c.WAL = w } }

func WithLogger(l *zap.SugaredLogger) BuilderOption { return func(c *ChainBuilder) { c.Logger = l } }

func WithObserver(fn func(BlockEvent)) BuilderOption { return func(c *ChainBuilder) { c.OnBlock = fn } }

// NewChainBuilder links blocks with LinkDigest from GenesisSentinel and paces
// rounds with a 10-30ms real-time delay unless overridden.
func NewChainBuilder(producers []Producer, opts ...BuilderOption) *ChainBuilder {
	c := &ChainBuilder{
		Producers: producers,
		Elector:   RoundRobinElector{N: len(producers)},
		PM:        NewPacemaker(DelayRange{Min: 10 * time.Millisecond, Max: 30 * time.Millisecond}, util.RealClock{}, uint64(time.Now().UnixNano())),
		Link:      LinkDigest,
		Genesis:   GenesisSentinel,
		Filler:    'X',
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunRounds produces rounds blocks, one per round, in a single linear chain.
// The run completes unless ctx is cancelled, in which case the blocks produced
// so far are returned with ctx.Err().
func (c *ChainBuilder) RunRounds(ctx context.Context, rounds int, payloadSize int) ([]Block, error) {
	if len(c.Producers) == 0 {
		return nil, ErrNoProducers
	}
	if rounds < 0 || payloadSize < 0 {
		return nil, fmt.Errorf("invalid run: rounds=%d payload=%d", rounds, payloadSize)
	}

	blocks := make([]Block, 0, rounds)
	lastHash := c.Genesis
	payload := bytes.Repeat([]byte{c.Filler}, payloadSize)

	for i := 0; i < rounds; i++ {
		delay, err := c.PM.Wait(ctx)
		if err != nil {
			return blocks, err
		}

		round := uint64(i)
		leader := c.Elector.LeaderOf(round)
		if leader < 0 || leader >= len(c.Producers) {
			return blocks, fmt.Errorf("round %d: elector returned producer %d of %d", i, leader, len(c.Producers))
		}
		p := c.Producers[leader]

		b, err := p.CreateBlock(round, lastHash, payload)
		if err != nil {
			return blocks, fmt.Errorf("round %d: producer %s: %w", i, p.ID(), err)
		}
		blocks = append(blocks, b)

		if c.Store != nil {
			if err := c.Store.SaveBlock(b); err != nil {
				return blocks, fmt.Errorf("round %d: save block: %w", i, err)
			}
		}
		lastHash = c.Link(b)

		if c.WAL != nil {
			c.WAL.Append(fmt.Sprintf("produce round=%d producer=%s alg=%s link=%s", i, p.ID(), b.Alg, lastHash))
		}
		if c.Logger != nil {
			c.Logger.Debugw("block_produced", "round", i, "producer", p.ID(), "alg", b.Alg,
				"sig_bytes", len(b.Signature), "delay_ms", delay.Milliseconds(), "link", lastHash[:min(16, len(lastHash))])
		}
		if c.OnBlock != nil {
			c.OnBlock(BlockEvent{Round: round, Block: b, LinkHash: lastHash, Delay: delay})
		}
	}
	return blocks, nil
}
