package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cloudflare/circl/xof"
)

const PublicKeySize = 32

var ErrIndexExhausted = errors.New("signing index space exhausted")

// Signer produces one signature per message and is the authoritative
// reference for the public key embedded in blocks.
type Signer interface {
	Alg() Alg
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

type signerOptions struct {
	seed []byte
}

type Option func(*signerOptions)

// WithSeed derives the public key from seed instead of the system RNG.
func WithSeed(seed []byte) Option {
	return func(o *signerOptions) { o.seed = append([]byte(nil), seed...) }
}

// NewSigner builds the signer named by alg. The name is resolved exactly once;
// an unknown name yields no signer.
func NewSigner(alg string, opts ...Option) (Signer, error) {
	a, err := ParseAlg(alg)
	if err != nil {
		return nil, err
	}
	return NewSignerFor(a, opts...)
}

// NewSignerFor builds a signer for an already resolved algorithm.
func NewSignerFor(a Alg, opts ...Option) (Signer, error) {
	var o signerOptions
	for _, opt := range opts {
		opt(&o)
	}
	pk, err := newPublicKey(o.seed)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	switch a {
	case AlgSPHINCS:
		return &StatelessSigner{pk: pk}, nil
	case AlgXMSS, AlgLMS:
		return &StatefulSigner{alg: a, pk: pk}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAlg, a)
}

func newPublicKey(seed []byte) ([]byte, error) {
	pk := make([]byte, PublicKeySize)
	if seed == nil {
		if _, err := rand.Read(pk); err != nil {
			return nil, err
		}
		return pk, nil
	}
	x := xof.SHAKE256.New()
	if _, err := x.Write(seed); err != nil {
		return nil, err
	}
	if _, err := x.Read(pk); err != nil {
		return nil, err
	}
	return pk, nil
}

// StatelessSigner simulates SPHINCS+: tag || padding, no memory across calls.
type StatelessSigner struct {
	pk []byte
}

func (s *StatelessSigner) Alg() Alg { return AlgSPHINCS }

func (s *StatelessSigner) PublicKey() []byte { return append([]byte(nil), s.pk...) }

func (s *StatelessSigner) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, 0, AlgSPHINCS.SignatureLen())
	sig = append(sig, Tag(s.pk, msg)...)
	sig = appendFiller(sig, AlgSPHINCS)
	return sig, nil
}

// StatefulSigner simulates XMSS and LMS: tag || body || index. The index is
// consumed by every call whether or not the signature is ever verified.
type StatefulSigner struct {
	alg Alg
	pk  []byte

	mu        sync.Mutex
	idx       uint32
	exhausted bool
}

func (s *StatefulSigner) Alg() Alg { return s.alg }

func (s *StatefulSigner) PublicKey() []byte { return append([]byte(nil), s.pk...) }

// Index returns the index the next Sign call will use.
func (s *StatefulSigner) Index() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

func (s *StatefulSigner) Sign(msg []byte) ([]byte, error) {
	idx, err := s.next()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 0, s.alg.SignatureLen())
	sig = append(sig, IndexedTag(s.pk, msg, idx)...)
	sig = appendFiller(sig, s.alg)
	sig = binary.BigEndian.AppendUint32(sig, idx)
	return sig, nil
}

// next reads and advances the counter in one step.
func (s *StatefulSigner) next() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exhausted {
		return 0, ErrIndexExhausted
	}
	idx := s.idx
	if idx == math.MaxUint32 {
		s.exhausted = true
	} else {
		s.idx++
	}
	return idx, nil
}

func appendFiller(sig []byte, a Alg) []byte {
	f := a.filler()
	for i := 0; i < a.bodyLen(); i++ {
		sig = append(sig, f)
	}
	return sig
}

var (
	_ Signer = (*StatelessSigner)(nil)
	_ Signer = (*StatefulSigner)(nil)
)
