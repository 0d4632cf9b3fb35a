package storage

import (
	"fmt"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
)

const (
	KindMemory = "memory"
	KindPebble = "pebble"
)

// ChainStore is a block store that can also list its contents.
type ChainStore interface {
	consensus.BlockStore
	Blocks() ([]consensus.Block, error)
}

// Open returns a fresh, empty store of the given kind. Pebble stores opened
// here run on an in-memory filesystem.
func Open(kind string) (ChainStore, error) {
	switch kind {
	case "", KindMemory:
		return NewInMemoryBlockStore(), nil
	case KindPebble:
		return NewMemPebbleStore()
	}
	return nil, fmt.Errorf("unknown store kind %q", kind)
}
