// Package commitment implements Pedersen commitments over edwards25519,
// C = v*G + r*H, together with a range proof showing v fits in 32 bits
// without disclosing it.
package commitment

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"filippo.io/edwards25519"
)

const (
	// Bits is the width of the committed quantity.
	Bits = 32

	scalarSize = 32
	pointSize  = 32
)

var (
	ErrOutOfRange      = errors.New("quantity out of range")
	ErrInvalidEncoding = errors.New("invalid commitment encoding")
	ErrInvalidProof    = errors.New("range proof does not verify")
)

// generatorH is a second generator with no known discrete log relative to G,
// found by hashing a fixed label onto the curve.
var generatorH = mustHashToPoint("certificate-issuance/pedersen/H")

// New commits to quantity under a fresh random blinding value. It returns the
// encoded commitment and the blinding value needed to open it.
func New(quantity uint64) (commitment, blinding []byte, err error) {
	r, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	c, err := commit(quantity, r)
	if err != nil {
		return nil, nil, err
	}
	return c.Bytes(), r.Bytes(), nil
}

// Commit recomputes the commitment for a known (quantity, blinding) pair.
func Commit(quantity uint64, blinding []byte) ([]byte, error) {
	r, err := decodeScalar(blinding)
	if err != nil {
		return nil, err
	}
	c, err := commit(quantity, r)
	if err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

// Open reports whether commitment was produced from exactly (quantity, blinding).
func Open(commitment []byte, quantity uint64, blinding []byte) bool {
	recomputed, err := Commit(quantity, blinding)
	if err != nil || len(commitment) != pointSize {
		return false
	}
	want, err := new(edwards25519.Point).SetBytes(commitment)
	if err != nil {
		return false
	}
	got, err := new(edwards25519.Point).SetBytes(recomputed)
	if err != nil {
		return false
	}
	return want.Equal(got) == 1
}

// Verify checks that commitment is a well-formed curve point.
func Verify(commitment []byte) error {
	if len(commitment) != pointSize {
		return ErrInvalidEncoding
	}
	if _, err := new(edwards25519.Point).SetBytes(commitment); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return nil
}

func commit(quantity uint64, r *edwards25519.Scalar) (*edwards25519.Point, error) {
	if quantity > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, quantity)
	}
	v := scalarFromUint64(quantity)
	return new(edwards25519.Point).VarTimeDoubleScalarBaseMult(r, generatorH, v), nil
}

func scalarFromUint64(v uint64) *edwards25519.Scalar {
	var buf [scalarSize]byte
	binary.LittleEndian.PutUint64(buf[:8], v)
	s, err := edwards25519.NewScalar().SetCanonicalBytes(buf[:])
	if err != nil {
		panic(err)
	}
	return s
}

func randomScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	return edwards25519.NewScalar().SetUniformBytes(buf[:])
}

func decodeScalar(b []byte) (*edwards25519.Scalar, error) {
	if len(b) != scalarSize {
		return nil, ErrInvalidEncoding
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return s, nil
}

func hashToScalar(parts ...[]byte) *edwards25519.Scalar {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		panic(err)
	}
	return s
}

// mustHashToPoint uses try-and-increment: hash label||counter until the
// digest decodes to a point, then clear the cofactor.
func mustHashToPoint(label string) *edwards25519.Point {
	identity := edwards25519.NewIdentityPoint()
	for counter := uint32(0); counter < 1<<16; counter++ {
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], counter)
		digest := sha512.Sum512(append([]byte(label), ctr[:]...))
		p, err := new(edwards25519.Point).SetBytes(digest[:pointSize])
		if err != nil {
			continue
		}
		p.MultByCofactor(p)
		if p.Equal(identity) == 1 {
			continue
		}
		return p
	}
	panic("commitment: no point found for " + label)
}
