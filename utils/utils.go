package utils

import (
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

func MiMCHasher() hash.Hash {
	return mimc.NewMiMC()
}

// Hash is the pool hash function: MiMC over BN254 fed with the canonical
// 32-byte big-endian encoding of every element.
// Commitments, nullifiers, signatures and tree nodes all use it.
func Hash(elems ...fr.Element) fr.Element {
	hasher := MiMCHasher()
	for i := range elems {
		b := elems[i].Bytes()
		if _, err := hasher.Write(b[:]); err != nil {
			// canonical elements are always accepted
			panic(err)
		}
	}
	var out fr.Element
	out.SetBytes(hasher.Sum(nil))
	return out
}

// HashUint64 is Hash with trailing uint64 arguments lifted into the field.
func HashUint64(elems []fr.Element, vals ...uint64) fr.Element {
	all := make([]fr.Element, 0, len(elems)+len(vals))
	all = append(all, elems...)
	for _, v := range vals {
		var e fr.Element
		e.SetUint64(v)
		all = append(all, e)
	}
	return Hash(all...)
}
