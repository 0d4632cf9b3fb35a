// Package adversary derives attack variants of existing blocks. Every helper
// works on a clone, so the original chain entry is never touched.
package adversary

import (
	"math/rand/v2"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
)

// TamperMarker is appended to the payload of a tampered block.
const TamperMarker = "_TAMPER"

// Tamper changes only the payload. Signature, public key and index bytes are
// kept, so verification recomputes the tag over a message that was never signed.
func Tamper(b consensus.Block) consensus.Block {
	t := b.Clone()
	t.Data = append(t.Data, TamperMarker...)
	return t
}

// Replay re-submits an identical copy, reusing the signature and its index.
func Replay(b consensus.Block) consensus.Block {
	return b.Clone()
}

// Sample picks min(k, len(blocks)) distinct blocks in random order.
func Sample(rng *rand.Rand, blocks []consensus.Block, k int) []consensus.Block {
	if k > len(blocks) {
		k = len(blocks)
	}
	if k <= 0 {
		return nil
	}
	perm := rng.Perm(len(blocks))
	out := make([]consensus.Block, k)
	for i := 0; i < k; i++ {
		out[i] = blocks[perm[i]]
	}
	return out
}
