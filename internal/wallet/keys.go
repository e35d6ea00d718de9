package wallet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidPublicKey = errors.New("invalid wallet public key")

// DeriveChildPublicKey derives the key the wallet will use at position:
// child = parent + H(parent || position)*G. The wallet holds the parent
// private key and can derive the matching child private key.
func DeriveChildPublicKey(parent []byte, position uint32) ([]byte, error) {
	pub, err := crypto.DecompressPubkey(parent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	tweak, err := childTweak(parent, position)
	if err != nil {
		return nil, err
	}

	curve := crypto.S256()
	tx, ty := curve.ScalarBaseMult(tweak.Bytes())
	x, y := curve.Add(pub.X, pub.Y, tx, ty)
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, fmt.Errorf("%w: child key at position %d is the point at infinity", ErrInvalidPublicKey, position)
	}
	return crypto.CompressPubkey(&ecdsa.PublicKey{Curve: curve, X: x, Y: y}), nil
}

// DeriveChildPrivateKey is the private counterpart of DeriveChildPublicKey.
func DeriveChildPrivateKey(parent *ecdsa.PrivateKey, position uint32) (*ecdsa.PrivateKey, error) {
	tweak, err := childTweak(crypto.CompressPubkey(&parent.PublicKey), position)
	if err != nil {
		return nil, err
	}
	d := new(big.Int).Add(parent.D, tweak)
	d.Mod(d, crypto.S256().Params().N)
	return crypto.ToECDSA(d.FillBytes(make([]byte, 32)))
}

func childTweak(parent []byte, position uint32) (*big.Int, error) {
	var pos [4]byte
	binary.BigEndian.PutUint32(pos[:], position)
	tweak := new(big.Int).SetBytes(crypto.Keccak256(parent, pos[:]))
	if tweak.Sign() == 0 || tweak.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, fmt.Errorf("%w: unusable tweak at position %d", ErrInvalidPublicKey, position)
	}
	return tweak, nil
}
