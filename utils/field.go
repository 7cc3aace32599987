package utils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"lukechampine.com/frand"
)

// FieldSize is the order of the BN254 scalar field.
var FieldSize = fr.Modulus()

var (
	ErrNegative     = errors.New("negative value")
	ErrOverflow     = errors.New("value does not fit")
	ErrInvalidHex   = errors.New("invalid hex string")
	ErrNotCanonical = errors.New("value is not a canonical field element")
)

// Mod reduces v into [0, FieldSize).
func Mod(v *big.Int) *big.Int {
	r := new(big.Int).Mod(v, FieldSize)
	return r
}

// ToFixedBytes encodes a non-negative v as n big-endian bytes.
func ToFixedBytes(v *big.Int, n int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	if (v.BitLen()+7)/8 > n {
		return nil, fmt.Errorf("%w: %d bits in %d bytes", ErrOverflow, v.BitLen(), n)
	}
	out := make([]byte, n)
	v.FillBytes(out)
	return out, nil
}

// ToFixedHex renders v as 0x-prefixed hex of exactly n bytes. Negative values
// are written in two's complement, which is how int256 travels in calldata.
func ToFixedHex(v *big.Int, n int) string {
	x := new(big.Int).Set(v)
	if x.Sign() < 0 {
		x.Add(x, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	out := make([]byte, n)
	b := x.Bytes()
	if len(b) > n {
		b = b[len(b)-n:]
	}
	copy(out[n-len(b):], b)
	return "0x" + hex.EncodeToString(out)
}

// FromFixedHex is the inverse of ToFixedHex for signed values.
func FromFixedHex(s string, n int) (*big.Int, error) {
	v, err := ParseHex(s)
	if err != nil {
		return nil, err
	}
	if v.BitLen() > 8*n {
		return nil, fmt.Errorf("%w: %s in %d bytes", ErrOverflow, s, n)
	}
	if v.BitLen() == 8*n {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	return v, nil
}

func ElementHex(e fr.Element) string {
	b := e.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

func ElementBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// ParseHex accepts 0x/0X prefixed or bare, odd length, mixed case hex.
func ParseHex(s string) (*big.Int, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if t == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(t, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	return v, nil
}

func HexToElement(s string) (fr.Element, error) {
	v, err := ParseHex(s)
	if err != nil {
		return fr.Element{}, err
	}
	return BigToElement(v)
}

// BigToElement rejects values outside [0, FieldSize) instead of reducing them.
func BigToElement(v *big.Int) (fr.Element, error) {
	var e fr.Element
	if v.Sign() < 0 {
		return e, ErrNegative
	}
	if v.Cmp(FieldSize) >= 0 {
		return e, fmt.Errorf("%w: %s", ErrNotCanonical, v.Text(16))
	}
	e.SetBigInt(v)
	return e, nil
}

// RandomElement draws n random bytes (n <= 31 keeps the result below the
// modulus without reduction) and reads them as a big-endian element.
func RandomElement(n int) fr.Element {
	var e fr.Element
	e.SetBytes(frand.Bytes(n))
	return e
}

func Uint64Element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}
