package commitment

import (
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
)

// Each bit i of the quantity gets its own commitment C_i = b_i*G + r_i*H with
// sum(2^i * r_i) = r, so sum(2^i * C_i) = C. An OR proof per bit shows that
// C_i or C_i - G is a multiple of H, i.e. b_i is 0 or 1.
//
// Per bit the proof holds C_i, e0, e1, s0, s1.
const bitProofSize = pointSize + 4*scalarSize

const transcriptLabel = "certificate-issuance/range-proof/v1"

// ProveRange builds a range proof for the commitment of (quantity, blinding).
// All proof randomness is derived from the blinding value, so the same
// inputs always give the same proof.
func ProveRange(quantity uint64, blinding []byte) ([]byte, error) {
	r, err := decodeScalar(blinding)
	if err != nil {
		return nil, err
	}
	c, err := commit(quantity, r)
	if err != nil {
		return nil, err
	}
	commitment := c.Bytes()

	nonces := nonceSource{blinding: blinding, quantity: quantity}

	// r_0 absorbs the remainder so the weighted bit blindings sum to r.
	blindings := make([]*edwards25519.Scalar, Bits)
	r0 := edwards25519.NewScalar().Set(r)
	for i := 1; i < Bits; i++ {
		ri := nonces.scalar("bit-blinding", i)
		blindings[i] = ri
		weighted := edwards25519.NewScalar().Multiply(ri, scalarFromUint64(1<<uint(i)))
		r0.Subtract(r0, weighted)
	}
	blindings[0] = r0

	proof := make([]byte, 0, Bits*bitProofSize)
	for i := 0; i < Bits; i++ {
		bit := (quantity >> uint(i)) & 1
		proof = append(proof, proveBit(commitment, i, bit, blindings[i], nonces)...)
	}
	return proof, nil
}

// VerifyRange checks that proof shows commitment hides a value in [0, 2^32).
func VerifyRange(commitment, proof []byte) error {
	if err := Verify(commitment); err != nil {
		return err
	}
	if len(proof) != Bits*bitProofSize {
		return fmt.Errorf("%w: proof length %d", ErrInvalidEncoding, len(proof))
	}
	c, _ := new(edwards25519.Point).SetBytes(commitment)

	sum := edwards25519.NewIdentityPoint()
	for i := 0; i < Bits; i++ {
		chunk := proof[i*bitProofSize : (i+1)*bitProofSize]
		ci, err := verifyBit(commitment, i, chunk)
		if err != nil {
			return fmt.Errorf("bit %d: %w", i, err)
		}
		weighted := new(edwards25519.Point).ScalarMult(scalarFromUint64(1<<uint(i)), ci)
		sum.Add(sum, weighted)
	}
	if sum.Equal(c) != 1 {
		return fmt.Errorf("%w: bit commitments do not sum to commitment", ErrInvalidProof)
	}
	return nil
}

func proveBit(commitment []byte, index int, bit uint64, ri *edwards25519.Scalar, nonces nonceSource) []byte {
	ci := new(edwards25519.Point).ScalarMult(ri, generatorH)
	if bit == 1 {
		ci.Add(ci, edwards25519.NewGeneratorPoint())
	}
	branches := bitBranches(ci)

	known := int(bit)
	fake := 1 - known

	var e, s [2]*edwards25519.Scalar
	var a [2]*edwards25519.Point

	eFake := nonces.scalar("simulated-challenge", index)
	sFake := nonces.scalar("simulated-response", index)
	e[fake], s[fake] = eFake, sFake
	a[fake] = simulatedAnnouncement(sFake, eFake, branches[fake])

	nonce := nonces.scalar("announcement", index)
	a[known] = new(edwards25519.Point).ScalarMult(nonce, generatorH)

	challenge := bitChallenge(commitment, index, ci, a[0], a[1])
	e[known] = edwards25519.NewScalar().Subtract(challenge, e[fake])
	s[known] = edwards25519.NewScalar().MultiplyAdd(e[known], ri, nonce)

	out := make([]byte, 0, bitProofSize)
	out = append(out, ci.Bytes()...)
	out = append(out, e[0].Bytes()...)
	out = append(out, e[1].Bytes()...)
	out = append(out, s[0].Bytes()...)
	out = append(out, s[1].Bytes()...)
	return out
}

func verifyBit(commitment []byte, index int, chunk []byte) (*edwards25519.Point, error) {
	ci, err := new(edwards25519.Point).SetBytes(chunk[:pointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	var e, s [2]*edwards25519.Scalar
	offset := pointSize
	for _, dst := range []*[2]*edwards25519.Scalar{&e, &s} {
		for k := 0; k < 2; k++ {
			v, err := decodeScalar(chunk[offset : offset+scalarSize])
			if err != nil {
				return nil, err
			}
			dst[k] = v
			offset += scalarSize
		}
	}

	branches := bitBranches(ci)
	a0 := simulatedAnnouncement(s[0], e[0], branches[0])
	a1 := simulatedAnnouncement(s[1], e[1], branches[1])

	challenge := bitChallenge(commitment, index, ci, a0, a1)
	sum := edwards25519.NewScalar().Add(e[0], e[1])
	if sum.Equal(challenge) != 1 {
		return nil, ErrInvalidProof
	}
	return ci, nil
}

// bitBranches returns the two statements: C_i = x*H and C_i - G = x*H.
func bitBranches(ci *edwards25519.Point) [2]*edwards25519.Point {
	minusG := new(edwards25519.Point).Subtract(ci, edwards25519.NewGeneratorPoint())
	return [2]*edwards25519.Point{new(edwards25519.Point).Set(ci), minusG}
}

// simulatedAnnouncement computes A = s*H - e*P.
func simulatedAnnouncement(s, e *edwards25519.Scalar, p *edwards25519.Point) *edwards25519.Point {
	sh := new(edwards25519.Point).ScalarMult(s, generatorH)
	ep := new(edwards25519.Point).ScalarMult(e, p)
	return sh.Subtract(sh, ep)
}

func bitChallenge(commitment []byte, index int, ci, a0, a1 *edwards25519.Point) *edwards25519.Scalar {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	return hashToScalar([]byte(transcriptLabel), commitment, idx[:], ci.Bytes(), a0.Bytes(), a1.Bytes())
}

// nonceSource derives per-bit secrets from the blinding value.
type nonceSource struct {
	blinding []byte
	quantity uint64
}

func (n nonceSource) scalar(purpose string, index int) *edwards25519.Scalar {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], n.quantity)
	binary.BigEndian.PutUint32(buf[8:], uint32(index))
	return hashToScalar([]byte(transcriptLabel), []byte(purpose), n.blinding, buf[:])
}
