package prover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// CircuitPath locates the compiled circuit and its proving key.
type CircuitPath struct {
	Circuit string `yaml:"circuit"`
	ZKey    string `yaml:"zkey"`
}

// ProofGenerator turns a witness into a serialized proof.
type ProofGenerator interface {
	GenerateProof(ctx context.Context, path CircuitPath, w *circuit.Witness) ([]byte, error)
}

// Keys is a compiled circuit variant with its PLONK keys.
type Keys struct {
	Levels int
	Inputs int
	CCS    constraint.ConstraintSystem
	PK     plonk.ProvingKey
	VK     plonk.VerifyingKey
}

// Setup compiles the nIns input circuit and runs a PLONK setup over an
// unsafe, locally generated KZG SRS.
// TODO: load the SRS from a ceremony transcript once one is published.
func Setup(levels, nIns int) (*Keys, error) {
	ccs, err := circuit.Compile(levels, nIns)
	if err != nil {
		return nil, err
	}
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, err
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, err
	}
	return &Keys{Levels: levels, Inputs: nIns, CCS: ccs, PK: pk, VK: vk}, nil
}

func writeFile(name string, w io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return err
	}
	return os.WriteFile(name, buf.Bytes(), 0o644)
}

// Write stores the keys under dir as name.ccs, name.zkey, name.vkey and a
// Solidity verifier name.sol.
func (k *Keys) Write(dir, name string) (CircuitPath, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CircuitPath{}, err
	}
	path := CircuitPath{
		Circuit: filepath.Join(dir, name+".ccs"),
		ZKey:    filepath.Join(dir, name+".zkey"),
	}
	if err := writeFile(path.Circuit, k.CCS); err != nil {
		return CircuitPath{}, err
	}
	if err := writeFile(path.ZKey, k.PK); err != nil {
		return CircuitPath{}, err
	}
	if err := writeFile(VerifyingKeyPath(path), k.VK); err != nil {
		return CircuitPath{}, err
	}

	var sol bytes.Buffer
	if err := k.VK.ExportSolidity(&sol); err != nil {
		return CircuitPath{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".sol"), sol.Bytes(), 0o644); err != nil {
		return CircuitPath{}, err
	}
	return path, nil
}

// VerifyingKeyPath is where Write puts the verifying key of path.
func VerifyingKeyPath(path CircuitPath) string {
	ext := filepath.Ext(path.ZKey)
	return path.ZKey[:len(path.ZKey)-len(ext)] + ".vkey"
}

func readFile(name string, r io.ReaderFrom) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	_, err = r.ReadFrom(bytes.NewReader(data))
	return err
}

// LoadVerifyingKey reads a verifying key written by Keys.Write.
func LoadVerifyingKey(name string) (plonk.VerifyingKey, error) {
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if err := readFile(name, vk); err != nil {
		return nil, fmt.Errorf("read verifying key %s: %w", name, err)
	}
	return vk, nil
}

// PlonkProver proves with gnark PLONK. Circuits are read from disk on first
// use unless registered in memory.
type PlonkProver struct {
	levels int
	log    zerolog.Logger

	mtx  sync.Mutex
	keys map[CircuitPath]*Keys
}

var _ ProofGenerator = (*PlonkProver)(nil)

func NewPlonkProver(levels int, log zerolog.Logger) *PlonkProver {
	return &PlonkProver{
		levels: levels,
		log:    log.With().Str("module", "prover").Logger(),
		keys:   make(map[CircuitPath]*Keys),
	}
}

// Register makes keys available under path without touching the disk.
func (p *PlonkProver) Register(path CircuitPath, keys *Keys) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.keys[path] = keys
}

func (p *PlonkProver) load(path CircuitPath) (*Keys, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if k, ok := p.keys[path]; ok {
		return k, nil
	}
	ccs := plonk.NewCS(ecc.BN254)
	if err := readFile(path.Circuit, ccs); err != nil {
		return nil, fmt.Errorf("read circuit %s: %w", path.Circuit, err)
	}
	pk := plonk.NewProvingKey(ecc.BN254)
	if err := readFile(path.ZKey, pk); err != nil {
		return nil, fmt.Errorf("read proving key %s: %w", path.ZKey, err)
	}
	k := &Keys{Levels: p.levels, CCS: ccs, PK: pk}
	p.keys[path] = k
	return k, nil
}

func (p *PlonkProver) GenerateProof(ctx context.Context, path CircuitPath, w *circuit.Witness) ([]byte, error) {
	keys, err := p.load(path)
	if err != nil {
		return nil, err
	}
	full, err := w.Full(p.levels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proof, err := plonk.Prove(keys.CCS, keys.PK, full)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	p.log.Debug().Int("inputs", w.Inputs()).Int("size", buf.Len()).Msg("proof generated")
	return buf.Bytes(), nil
}

// PlonkVerifier checks packaged proofs, picking the verifying key by the
// number of input nullifiers.
type PlonkVerifier struct {
	levels int
	vks    map[int]plonk.VerifyingKey
}

func NewPlonkVerifier(levels int) *PlonkVerifier {
	return &PlonkVerifier{levels: levels, vks: make(map[int]plonk.VerifyingKey)}
}

func (v *PlonkVerifier) Register(nIns int, vk plonk.VerifyingKey) {
	v.vks[nIns] = vk
}

func (v *PlonkVerifier) Verify(args *types.ProofArgs) error {
	vk, ok := v.vks[len(args.InputNullifiers)]
	if !ok {
		return fmt.Errorf("no verifying key for %d inputs", len(args.InputNullifiers))
	}
	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(args.Proof)); err != nil {
		return fmt.Errorf("read proof: %w", err)
	}
	public, err := circuit.Public(v.levels, args.Root, args.PublicAmount, args.ExtDataHash,
		args.InputNullifiers, args.OutputCommitments[:])
	if err != nil {
		return err
	}
	return plonk.Verify(proof, vk, public)
}
