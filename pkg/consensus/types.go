// file: pkg/consensus/types.go
package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

type NodeID string

// Block is one ledger entry. Blocks are values: once CreateBlock returns one
// it is never edited, and every derived variant starts from Clone.
type Block struct {
	Index        uint64
	Timestamp    time.Time
	PreviousHash string
	Data         []byte
	Signature    []byte
	PublicKey    []byte
	Alg          string
	Producer     NodeID
	BlockHash    string // HashOfBlock at creation time
}

// Clone returns a copy that shares no backing arrays with b.
func (b Block) Clone() Block {
	c := b
	c.Data = cloneBytes(b.Data)
	c.Signature = cloneBytes(b.Signature)
	c.PublicKey = cloneBytes(b.PublicKey)
	return c
}

// Size approximates the encoded block size in bytes.
func (b Block) Size() int {
	return len(b.Data) + len(b.Signature) + len(b.PublicKey) + 64
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func timestampText(ts time.Time) string {
	return strconv.FormatInt(ts.UnixNano(), 10)
}

// SigningMessage is the canonical message a producer signs:
// "index|previous_hash|data". The timestamp is deliberately not covered.
func SigningMessage(index uint64, previousHash string, data []byte) []byte {
	msg := make([]byte, 0, 24+len(previousHash)+len(data))
	msg = strconv.AppendUint(msg, index, 10)
	msg = append(msg, '|')
	msg = append(msg, previousHash...)
	msg = append(msg, '|')
	msg = append(msg, data...)
	return msg
}

// HashOfBlock computes the block_hash field: hex SHA-256 over
// "index|timestamp|previous_hash|data". Unlike the signature it covers the
// timestamp.
func HashOfBlock(index uint64, ts time.Time, previousHash string, data []byte) string {
	h := sha256.New()
	h.Write(strconv.AppendUint(nil, index, 10))
	h.Write([]byte{'|'})
	h.Write([]byte(timestampText(ts)))
	h.Write([]byte{'|'})
	h.Write([]byte(previousHash))
	h.Write([]byte{'|'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ---- Collaborator interfaces (impl in pkg/node and pkg/storage) ----

// Producer creates signed blocks on request of the chain builder.
type Producer interface {
	ID() NodeID
	CreateBlock(index uint64, previousHash string, data []byte) (Block, error)
}

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(index uint64) (Block, bool, error)
	Len() int
}

type WAL interface {
	Append(line string)
}
