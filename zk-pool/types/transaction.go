package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kysee/zkpool/utils"
)

type TxKind string

const (
	Deposit  TxKind = "deposit"
	Withdraw TxKind = "withdraw"
	Transfer TxKind = "transfer"
)

func ParseTxKind(s string) (TxKind, error) {
	switch k := TxKind(s); k {
	case Deposit, Withdraw, Transfer:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown transaction kind %q", ErrValidation, s)
}

// ProofArgs is the proof package the pool contract verifies.
type ProofArgs struct {
	Proof             []byte
	Root              fr.Element
	InputNullifiers   []fr.Element
	OutputCommitments [2]fr.Element
	PublicAmount      fr.Element
	ExtDataHash       fr.Element
}

type proofArgsJSON struct {
	Proof             hexutil.Bytes `json:"proof"`
	Root              string        `json:"root"`
	InputNullifiers   []string      `json:"inputNullifiers"`
	OutputCommitments [2]string     `json:"outputCommitments"`
	PublicAmount      string        `json:"publicAmount"`
	ExtDataHash       string        `json:"extDataHash"`
}

func (p *ProofArgs) MarshalJSON() ([]byte, error) {
	v := proofArgsJSON{
		Proof:        p.Proof,
		Root:         utils.ElementHex(p.Root),
		PublicAmount: utils.ElementHex(p.PublicAmount),
		ExtDataHash:  utils.ElementHex(p.ExtDataHash),
	}
	for _, nf := range p.InputNullifiers {
		v.InputNullifiers = append(v.InputNullifiers, utils.ElementHex(nf))
	}
	for i, cm := range p.OutputCommitments {
		v.OutputCommitments[i] = utils.ElementHex(cm)
	}
	return json.Marshal(&v)
}

func (p *ProofArgs) UnmarshalJSON(data []byte) error {
	var v proofArgsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var out ProofArgs
	var err error
	out.Proof = v.Proof
	if out.Root, err = utils.HexToElement(v.Root); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if out.PublicAmount, err = utils.HexToElement(v.PublicAmount); err != nil {
		return fmt.Errorf("publicAmount: %w", err)
	}
	if out.ExtDataHash, err = utils.HexToElement(v.ExtDataHash); err != nil {
		return fmt.Errorf("extDataHash: %w", err)
	}
	for _, s := range v.InputNullifiers {
		nf, err := utils.HexToElement(s)
		if err != nil {
			return fmt.Errorf("inputNullifiers: %w", err)
		}
		out.InputNullifiers = append(out.InputNullifiers, nf)
	}
	for i, s := range v.OutputCommitments {
		if out.OutputCommitments[i], err = utils.HexToElement(s); err != nil {
			return fmt.Errorf("outputCommitments: %w", err)
		}
	}
	*p = out
	return nil
}

// Transaction is a prepared, proven pool transaction ready for submission.
type Transaction struct {
	Kind      TxKind     `json:"kind"`
	ProofArgs *ProofArgs `json:"proofArgs"`
	ExtData   *ExtData   `json:"extData"`

	// Inputs are the padded spent notes and Outputs the two created notes.
	Inputs  []*Utxo `json:"-"`
	Outputs []*Utxo `json:"-"`
}

// ExternalAmount is the token flow crossing the pool boundary: the
// deposited or withdrawn amount, zero for transfers.
func (tx *Transaction) ExternalAmount() *big.Int {
	return new(big.Int).Set(tx.ExtData.ExtAmount)
}
