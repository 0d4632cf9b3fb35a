package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseAlg(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Alg
		wantErr bool
	}{
		{name: "sphincs sim", in: "sphincs-sim", want: AlgSPHINCS},
		{name: "upper case", in: "SPHINCS+-SHA2-128s", want: AlgSPHINCS},
		{name: "xmss", in: "xmss-sim", want: AlgXMSS},
		{name: "mixed case xmss", in: "XmSs", want: AlgXMSS},
		{name: "lms", in: "lms-sim", want: AlgLMS},
		{name: "unknown", in: "dilithium", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlg(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAlg) {
					t.Fatalf("ParseAlg(%q) err = %v, want ErrUnknownAlg", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAlg(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAlg(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewSignerUnknown(t *testing.T) {
	s, err := NewSigner("rsa")
	if err == nil {
		t.Fatal("expected error for unknown alg")
	}
	if s != nil {
		t.Errorf("expected no signer, got %T", s)
	}
}

func TestStatelessSignDeterministic(t *testing.T) {
	s, err := NewSigner("sphincs-sim")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	msg := []byte("0|GENESIS|payload")

	sig1, _ := s.Sign(msg)
	sig2, _ := s.Sign(msg)
	if !bytes.Equal(sig1, sig2) {
		t.Error("stateless signatures of the same message differ")
	}
	if len(sig1) != AlgSPHINCS.SignatureLen() {
		t.Errorf("signature length = %d, want %d", len(sig1), AlgSPHINCS.SignatureLen())
	}
	if !bytes.Equal(sig1[:TagSize], Tag(s.PublicKey(), msg)) {
		t.Error("leading bytes are not the tag over pk||msg")
	}
	for _, b := range sig1[TagSize:] {
		if b != 'S' {
			t.Fatalf("padding byte = %q, want 'S'", b)
		}
	}
}

func TestStatefulIndexMonotonic(t *testing.T) {
	for _, name := range []string{"xmss-sim", "lms-sim"} {
		t.Run(name, func(t *testing.T) {
			s, err := NewSigner(name)
			if err != nil {
				t.Fatalf("new signer: %v", err)
			}
			msg := []byte("same message")
			for want := uint32(0); want < 10; want++ {
				sig, err := s.Sign(msg)
				if err != nil {
					t.Fatalf("sign: %v", err)
				}
				idx, ok := TrailingIndex(sig)
				if !ok || idx != want {
					t.Fatalf("index = %d (ok=%v), want %d", idx, ok, want)
				}
				if !bytes.Equal(sig[:TagSize], IndexedTag(s.PublicKey(), msg, want)) {
					t.Fatalf("tag mismatch at index %d", want)
				}
				if len(sig) != s.Alg().SignatureLen() {
					t.Fatalf("signature length = %d, want %d", len(sig), s.Alg().SignatureLen())
				}
			}
			if got := s.(*StatefulSigner).Index(); got != 10 {
				t.Errorf("next index = %d, want 10", got)
			}
		})
	}
}

func TestSignatureSizes(t *testing.T) {
	want := map[Alg]int{
		AlgSPHINCS: 8 + 2048,
		AlgXMSS:    8 + 512 + 4,
		AlgLMS:     8 + 256 + 4,
	}
	for a, n := range want {
		if got := a.SignatureLen(); got != n {
			t.Errorf("%s SignatureLen = %d, want %d", a, got, n)
		}
	}
}

func TestStatefulExhaustion(t *testing.T) {
	s := &StatefulSigner{alg: AlgLMS, pk: make([]byte, PublicKeySize), idx: ^uint32(0)}
	sig, err := s.Sign([]byte("m"))
	if err != nil {
		t.Fatalf("last index should still sign: %v", err)
	}
	if idx, _ := TrailingIndex(sig); idx != ^uint32(0) {
		t.Fatalf("index = %d, want max", idx)
	}
	if _, err := s.Sign([]byte("m")); !errors.Is(err, ErrIndexExhausted) {
		t.Fatalf("err = %v, want ErrIndexExhausted", err)
	}
}

func TestWithSeedDeterministicKey(t *testing.T) {
	a, _ := NewSigner("xmss", WithSeed([]byte("node-0")))
	b, _ := NewSigner("xmss", WithSeed([]byte("node-0")))
	c, _ := NewSigner("xmss", WithSeed([]byte("node-1")))

	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Error("same seed produced different keys")
	}
	if bytes.Equal(a.PublicKey(), c.PublicKey()) {
		t.Error("different seeds produced the same key")
	}
	if len(a.PublicKey()) != PublicKeySize {
		t.Errorf("public key length = %d, want %d", len(a.PublicKey()), PublicKeySize)
	}
}

func TestTrailingIndexShort(t *testing.T) {
	if _, ok := TrailingIndex([]byte{1, 2, 3}); ok {
		t.Error("expected ok=false for 3-byte signature")
	}
	idx, ok := TrailingIndex([]byte{0, 0, 1, 2})
	if !ok || idx != 258 {
		t.Errorf("TrailingIndex = %d, %v, want 258, true", idx, ok)
	}
}
