package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
)

// PebbleStore keeps one run's chain in Pebble. With an empty path the store
// lives on an in-memory filesystem and disappears with the process.
type PebbleStore struct {
	db *pebble.DB

	mu    sync.Mutex
	count int
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db}
	n, err := s.countBlocks()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("count blocks: %w", err)
	}
	s.count = n
	return s, nil
}

func NewMemPebbleStore() (*PebbleStore, error) { return NewPebbleStore("") }

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: b:<8-byte-index>
var (
	blockPrefix = []byte("b:")
	blockUpper  = []byte("b;")
)

// big-endian so iteration order is index order
func kBlock(i uint64) []byte {
	k := append([]byte(nil), blockPrefix...)
	return binary.BigEndian.AppendUint64(k, i)
}

func encodeBlock(b consensus.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlock(raw []byte) (consensus.Block, error) {
	var b consensus.Block
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b)
	return b, err
}

func (s *PebbleStore) SaveBlock(b consensus.Block) error {
	key := kBlock(b.Index)
	val, err := encodeBlock(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists, err := s.get(key)
	if err != nil {
		return err
	}
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("set block %d: %w", b.Index, err)
	}
	if !exists {
		s.count++
	}
	return nil
}

func (s *PebbleStore) GetBlock(index uint64) (consensus.Block, bool, error) {
	val, ok, err := s.get(kBlock(index))
	if err != nil || !ok {
		return consensus.Block{}, false, err
	}
	out, err := decodeBlock(val)
	if err != nil {
		return consensus.Block{}, false, fmt.Errorf("decode block %d: %w", index, err)
	}
	return out, true, nil
}

func (s *PebbleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Blocks returns every stored block in index order.
func (s *PebbleStore) Blocks() ([]consensus.Block, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: blockPrefix, UpperBound: blockUpper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []consensus.Block
	for iter.First(); iter.Valid(); iter.Next() {
		b, err := decodeBlock(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		out = append(out, b)
	}
	return out, iter.Error()
}

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *PebbleStore) countBlocks() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: blockPrefix, UpperBound: blockUpper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

var _ consensus.BlockStore = (*PebbleStore)(nil)
