package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bloomfilter "github.com/holiman/bloomfilter/v2"
)

// DefaultFalsePositiveRate is the rate the cache filter is sized for.
const DefaultFalsePositiveRate = 0.01

var ErrInvalidCapacity = errors.New("bloom capacity must be positive")

// Filter is a probabilistic set of field elements. It never reports an
// added element as absent.
type Filter struct {
	inner *bloomfilter.Filter
}

// New sizes a filter for capacity elements at the given false-positive rate.
func New(capacity int, fpRate float64) (*Filter, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, fmt.Errorf("invalid false positive rate %f", fpRate)
	}
	m, k := optimalParams(capacity, fpRate)
	inner, err := bloomfilter.New(m, k)
	if err != nil {
		return nil, err
	}
	return &Filter{inner: inner}, nil
}

// optimalParams returns the bit count m = -n ln p / (ln 2)^2 and hash count
// k = m/n ln 2.
func optimalParams(n int, p float64) (uint64, uint64) {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	k := math.Round(m / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(m), uint64(k)
}

// key derives the 64-bit hash the filter works on. Elements are already
// uniform but keccak keeps arbitrary inputs well spread.
func key(e fr.Element) uint64 {
	b := e.Bytes()
	return binary.BigEndian.Uint64(ethcrypto.Keccak256(b[:])[:8])
}

func (f *Filter) Add(e fr.Element) {
	f.inner.AddHash(key(e))
}

func (f *Filter) Test(e fr.Element) bool {
	return f.inner.ContainsHash(key(e))
}

func (f *Filter) MarshalBinary() ([]byte, error) {
	return f.inner.MarshalBinary()
}

// Decode restores a filter written by MarshalBinary.
func Decode(data []byte) (*Filter, error) {
	inner := new(bloomfilter.Filter)
	if err := inner.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode bloom filter: %w", err)
	}
	return &Filter{inner: inner}, nil
}
