package crypto

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAlg = errors.New("unknown HBS alg")

// Alg identifies one simulated hash-based signature scheme.
type Alg uint8

const (
	AlgSPHINCS Alg = iota + 1 // stateless, large signature
	AlgXMSS                   // stateful, medium body
	AlgLMS                    // stateful, small body
)

// Simulated signature body sizes in bytes.
const (
	sphincsPadding = 2048
	xmssBody       = 512
	lmsBody        = 256
)

// Algs lists every supported scheme in the order experiments run them.
var Algs = []Alg{AlgSPHINCS, AlgXMSS, AlgLMS}

func (a Alg) String() string {
	switch a {
	case AlgSPHINCS:
		return "sphincs-sim"
	case AlgXMSS:
		return "xmss-sim"
	case AlgLMS:
		return "lms-sim"
	default:
		return fmt.Sprintf("alg(%d)", uint8(a))
	}
}

// Stateful reports whether signatures carry a one-time index.
func (a Alg) Stateful() bool { return a == AlgXMSS || a == AlgLMS }

// bodyLen is the filler length written between the tag and the index.
func (a Alg) bodyLen() int {
	switch a {
	case AlgSPHINCS:
		return sphincsPadding
	case AlgXMSS:
		return xmssBody
	case AlgLMS:
		return lmsBody
	}
	return 0
}

func (a Alg) filler() byte {
	switch a {
	case AlgXMSS:
		return 'X'
	case AlgLMS:
		return 'L'
	}
	return 'S'
}

// SignatureLen is the total length of a signature produced by a.
func (a Alg) SignatureLen() int {
	n := TagSize + a.bodyLen()
	if a.Stateful() {
		n += IndexSize
	}
	return n
}

// ParseAlg resolves a user supplied name. Matching is case-insensitive and
// by substring, so "SPHINCS+-sha2" and "xmss-sim" both resolve.
func ParseAlg(name string) (Alg, error) {
	a := strings.ToLower(name)
	switch {
	case strings.Contains(a, "sphincs"):
		return AlgSPHINCS, nil
	case strings.Contains(a, "xmss"):
		return AlgXMSS, nil
	case strings.Contains(a, "lms"):
		return AlgLMS, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlg, name)
}

// ParseAlgs resolves a list of names, failing on the first unknown one.
func ParseAlgs(names []string) ([]Alg, error) {
	out := make([]Alg, 0, len(names))
	for _, n := range names {
		a, err := ParseAlg(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
