package utils

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestFieldSize(t *testing.T) {
	expected, ok := new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)
	require.True(t, ok)
	require.Equal(t, 0, expected.Cmp(FieldSize))
}

func TestToFixedHex(t *testing.T) {
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000000a", ToFixedHex(big.NewInt(10), 32))
	require.Equal(t, "0x0000000000000000000000000000000000000001", ToFixedHex(big.NewInt(1), 20))
	// int256 two's complement
	require.Equal(t, "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", ToFixedHex(big.NewInt(-1), 32))

	for _, v := range []int64{0, 1, -1, 12345678, -987654321} {
		back, err := FromFixedHex(ToFixedHex(big.NewInt(v), 32), 32)
		require.NoError(t, err)
		require.Equal(t, v, back.Int64())
	}
}

func TestToFixedBytes(t *testing.T) {
	b, err := ToFixedBytes(big.NewInt(0x0102), 31)
	require.NoError(t, err)
	require.Len(t, b, 31)
	require.Equal(t, byte(0x01), b[29])
	require.Equal(t, byte(0x02), b[30])

	_, err = ToFixedBytes(new(big.Int).Lsh(big.NewInt(1), 248), 31)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = ToFixedBytes(big.NewInt(-5), 31)
	require.ErrorIs(t, err, ErrNegative)
}

func TestParseHex(t *testing.T) {
	for _, s := range []string{"0xAbC", "0XabC", "abc", "0x0abc", "  0xabc "} {
		v, err := ParseHex(s)
		require.NoError(t, err, s)
		require.Equal(t, int64(0xabc), v.Int64(), s)
	}
	_, err := ParseHex("0xzz")
	require.ErrorIs(t, err, ErrInvalidHex)

	_, err = HexToElement(ToFixedHex(FieldSize, 32))
	require.ErrorIs(t, err, ErrNotCanonical)

	e := RandomElement(31)
	back, err := HexToElement(ElementHex(e))
	require.NoError(t, err)
	require.True(t, e.Equal(&back))
}

func TestHash(t *testing.T) {
	var a, b fr.Element
	a.SetUint64(1)
	b.SetUint64(2)

	h0 := Hash(a, b)
	h1 := Hash(a, b)
	require.True(t, h0.Equal(&h1), "hash is not deterministic")

	h2 := Hash(b, a)
	require.False(t, h0.Equal(&h2), "hash ignores argument order")

	h3 := HashUint64([]fr.Element{a}, 2)
	require.True(t, h0.Equal(&h3))
}
