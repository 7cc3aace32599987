package crypto

import (
	"errors"
	"fmt"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2s"
	"lukechampine.com/frand"
)

const (
	kdfDomain = "zkpool_ExpandSeed"

	// PointSize is the length of a compressed curve point.
	PointSize = 32
)

var ErrInvalidPoint = errors.New("point is not a valid curve point")

// NewScalar returns a random non-zero scalar of the BN254 twisted Edwards
// (baby jubjub) subgroup.
func NewScalar() *big.Int {
	params := tedwards.GetEdwardsCurve()
	for {
		s := new(big.Int).SetBytes(frand.Bytes(32))
		s.Mod(s, &params.Order)
		if s.Sign() != 0 {
			return s
		}
	}
}

// ScalarFromSeed deterministically maps seed into a non-zero subgroup scalar.
func ScalarFromSeed(domain string, seed []byte) *big.Int {
	params := tedwards.GetEdwardsCurve()
	h := blake2s.Sum256(append([]byte(domain), seed...))
	s := new(big.Int).SetBytes(h[:])
	s.Mod(s, &params.Order)
	if s.Sign() == 0 {
		s.SetUint64(1)
	}
	return s
}

// PublicPoint computes scalar * Base.
func PublicPoint(scalar *big.Int) tedwards.PointAffine {
	params := tedwards.GetEdwardsCurve()
	var p tedwards.PointAffine
	p.ScalarMultiplication(&params.Base, scalar)
	return p
}

// ParsePoint decodes a compressed point and rejects the identity.
func ParsePoint(b []byte) (tedwards.PointAffine, error) {
	var p tedwards.PointAffine
	if len(b) != PointSize {
		return p, fmt.Errorf("%w: %d bytes", ErrInvalidPoint, len(b))
	}
	if _, err := p.SetBytes(b); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	if !p.IsOnCurve() || p.IsZero() {
		return p, ErrInvalidPoint
	}
	return p, nil
}

// ECDHEComputeSharedSecret computes the ECDHE shared secret
// sharedSecret = blake2s((scalar * otherPublicKey).X)
func ECDHEComputeSharedSecret(scalar *big.Int, otherPublicKey *tedwards.PointAffine) ([]byte, error) {
	if !otherPublicKey.IsOnCurve() {
		return nil, ErrInvalidPoint
	}

	var sharedSecret tedwards.PointAffine
	sharedSecret.ScalarMultiplication(otherPublicKey, scalar)
	if sharedSecret.IsZero() {
		return nil, fmt.Errorf("%w: shared secret is the identity", ErrInvalidPoint)
	}

	ax := sharedSecret.X.Bytes()
	h := blake2s.Sum256(ax[:])
	return h[:], nil
}

// ExpandKDF derives outputLen bytes from a 32-byte shared secret with keyed
// BLAKE2s in counter mode (PRF^expand).
func ExpandKDF(sharedSecret []byte, outputLen int) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("sharedSecret must be 32 bytes")
	}

	var keyStream []byte
	var counter byte = 1
	for len(keyStream) < outputLen {
		h, err := blake2s.New256([]byte(kdfDomain))
		if err != nil {
			return nil, fmt.Errorf("failed to create blake2s hash: %w", err)
		}
		h.Write(sharedSecret)
		h.Write([]byte{counter})
		keyStream = append(keyStream, h.Sum(nil)...)

		counter++
		if counter == 0 {
			return nil, errors.New("KDF counter overflow")
		}
	}
	return keyStream[:outputLen], nil
}
