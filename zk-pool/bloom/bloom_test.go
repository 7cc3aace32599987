package bloom

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	const n = 5000
	f, err := New(n, DefaultFalsePositiveRate)
	require.NoError(t, err)

	added := make([]fr.Element, n)
	for i := range added {
		added[i] = utils.RandomElement(31)
		f.Add(added[i])
	}
	for _, e := range added {
		require.True(t, f.Test(e))
	}

	// false positives stay bounded at design capacity
	const probes = 20000
	fp := 0
	for i := 0; i < probes; i++ {
		if f.Test(utils.RandomElement(31)) {
			fp++
		}
	}
	require.Less(t, float64(fp)/probes, 0.02)
}

func TestMarshal(t *testing.T) {
	f, err := New(100, DefaultFalsePositiveRate)
	require.NoError(t, err)
	e := utils.RandomElement(31)
	f.Add(e)

	bz, err := f.MarshalBinary()
	require.NoError(t, err)

	back, err := Decode(bz)
	require.NoError(t, err)
	require.True(t, back.Test(e))

	_, err = Decode([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestInvalidParams(t *testing.T) {
	_, err := New(0, DefaultFalsePositiveRate)
	require.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = New(10, 1.5)
	require.Error(t, err)
}
