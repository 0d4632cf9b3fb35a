package storage

import (
	"sort"
	"sync"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
)

// InMemoryBlockStore keeps clones of saved blocks keyed by index.
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[uint64]consensus.Block
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[uint64]consensus.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b consensus.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Index] = b.Clone()
	return nil
}

func (s *InMemoryBlockStore) GetBlock(index uint64) (consensus.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[index]
	if !ok {
		return consensus.Block{}, false, nil
	}
	return b.Clone(), true, nil
}

func (s *InMemoryBlockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// Blocks returns all stored blocks ordered by index.
func (s *InMemoryBlockStore) Blocks() ([]consensus.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consensus.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

var _ consensus.BlockStore = (*InMemoryBlockStore)(nil)
