package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
)

const proofArgsComponents = `[
	{"name":"proof","type":"bytes"},
	{"name":"root","type":"bytes32"},
	{"name":"inputNullifiers","type":"bytes32[]"},
	{"name":"outputCommitments","type":"bytes32[2]"},
	{"name":"publicAmount","type":"uint256"},
	{"name":"extDataHash","type":"bytes32"}]`

const extDataComponents = `[
	{"name":"recipient","type":"address"},
	{"name":"extAmount","type":"int256"},
	{"name":"relayer","type":"address"},
	{"name":"fee","type":"uint256"},
	{"name":"encryptedOutput1","type":"bytes"},
	{"name":"encryptedOutput2","type":"bytes"}]`

func transactMethod(name, mutability string) string {
	return fmt.Sprintf(`{"type":"function","name":%q,"stateMutability":%q,"inputs":[
		{"name":"args","type":"tuple","components":%s},
		{"name":"extData","type":"tuple","components":%s}],"outputs":[]}`,
		name, mutability, proofArgsComponents, extDataComponents)
}

// PoolABI is the part of the pool contract interface the client uses.
var PoolABI = `[
	{"type":"event","name":"CommitmentInserted","anonymous":false,"inputs":[
		{"name":"leafIndex","type":"uint256","indexed":false},
		{"name":"commitment","type":"bytes32","indexed":false},
		{"name":"encryptedOutput","type":"bytes","indexed":false}]},
	{"type":"event","name":"NewNullifier","anonymous":false,"inputs":[
		{"name":"nullifier","type":"bytes32","indexed":false}]},
	{"type":"function","name":"isSpent","stateMutability":"view",
		"inputs":[{"name":"nullifier","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isKnownRoot","stateMutability":"view",
		"inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	` + transactMethod("deposit", "payable") + `,
	` + transactMethod("withdraw", "nonpayable") + `,
	` + transactMethod("transfer", "nonpayable") + `
]`

// RegistrarABI maps chain accounts to shielded addresses.
const RegistrarABI = `[
	{"type":"event","name":"ShieldedAddress","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"shieldedAddress","type":"bytes","indexed":false}]},
	{"type":"function","name":"register","stateMutability":"nonpayable",
		"inputs":[{"name":"shieldedAddress","type":"bytes"}],"outputs":[]}
]`

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	poolABI      = mustParse(PoolABI)
	registrarABI = mustParse(RegistrarABI)
)

// abiProofArgs mirrors the proof args tuple for the ABI packer.
type abiProofArgs struct {
	Proof             []byte
	Root              [32]byte
	InputNullifiers   [][32]byte
	OutputCommitments [2][32]byte
	PublicAmount      *big.Int
	ExtDataHash       [32]byte
}

func toABIProofArgs(p *types.ProofArgs) abiProofArgs {
	out := abiProofArgs{
		Proof:        p.Proof,
		Root:         p.Root.Bytes(),
		PublicAmount: utils.ElementBig(p.PublicAmount),
		ExtDataHash:  p.ExtDataHash.Bytes(),
	}
	for _, nf := range p.InputNullifiers {
		out.InputNullifiers = append(out.InputNullifiers, nf.Bytes())
	}
	for i := range p.OutputCommitments {
		out.OutputCommitments[i] = p.OutputCommitments[i].Bytes()
	}
	return out
}

// PackTransaction encodes the calldata of the pool method for tx.Kind.
func PackTransaction(tx *types.Transaction) ([]byte, error) {
	return poolABI.Pack(string(tx.Kind), toABIProofArgs(tx.ProofArgs), *tx.ExtData)
}

// UnpackTransaction decodes calldata produced by PackTransaction.
func UnpackTransaction(data []byte) (*types.Transaction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	method, err := poolABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	kind, err := types.ParseTxKind(method.Name)
	if err != nil {
		return nil, err
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Args    abiProofArgs
		ExtData types.ExtData
	}
	if err := method.Inputs.Copy(&decoded, values); err != nil {
		return nil, err
	}

	args := &types.ProofArgs{Proof: decoded.Args.Proof}
	if args.Root, err = hashElement(decoded.Args.Root); err != nil {
		return nil, err
	}
	if args.ExtDataHash, err = hashElement(decoded.Args.ExtDataHash); err != nil {
		return nil, err
	}
	if args.PublicAmount, err = utils.BigToElement(decoded.Args.PublicAmount); err != nil {
		return nil, err
	}
	for _, nf := range decoded.Args.InputNullifiers {
		e, err := hashElement(nf)
		if err != nil {
			return nil, err
		}
		args.InputNullifiers = append(args.InputNullifiers, e)
	}
	for i, cm := range decoded.Args.OutputCommitments {
		if args.OutputCommitments[i], err = hashElement(cm); err != nil {
			return nil, err
		}
	}
	ext := decoded.ExtData
	return &types.Transaction{Kind: kind, ProofArgs: args, ExtData: &ext}, nil
}

func hashElement(h common.Hash) (e fr.Element, err error) {
	if err = e.SetBytesCanonical(h[:]); err != nil {
		return e, fmt.Errorf("%w: %s is not a field element", types.ErrValidation, h.Hex())
	}
	return e, nil
}
