package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

const (
	TagSize   = 8 // leading MAC bytes of every signature
	IndexSize = 4 // trailing big-endian index of stateful signatures
)

// Tag is the truncated SHA-256 tag over pk || msg. It binds a signature to a
// key and a message but offers no real unforgeability.
func Tag(pk, msg []byte) []byte {
	h := sha256.New()
	h.Write(pk)
	h.Write(msg)
	return h.Sum(nil)[:TagSize]
}

// IndexedTag is the truncated SHA-256 tag over pk || msg || index.
func IndexedTag(pk, msg []byte, idx uint32) []byte {
	var ib [IndexSize]byte
	binary.BigEndian.PutUint32(ib[:], idx)
	h := sha256.New()
	h.Write(pk)
	h.Write(msg)
	h.Write(ib[:])
	return h.Sum(nil)[:TagSize]
}

// TrailingIndex extracts the index appended at the tail of a stateful
// signature. ok is false when sig is too short to carry one.
func TrailingIndex(sig []byte) (idx uint32, ok bool) {
	if len(sig) < IndexSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(sig[len(sig)-IndexSize:]), true
}
