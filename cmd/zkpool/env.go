package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/cache"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/config"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/relayer"
	"github.com/kysee/zkpool/zk-pool/treesync"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/wallet"
	"github.com/rs/zerolog"
)

// env is everything a command needs to talk to one pool instance.
type env struct {
	cfg      *config.Config
	log      zerolog.Logger
	chain    *config.ChainConfig
	instance *config.InstanceConfig

	client    *ethclient.Client
	pool      *chain.Pool
	registrar *chain.Registrar
	syncer    *events.Syncer
	trees     *treesync.Service
	scanner   *wallet.Scanner

	closers []func() error
}

func openEnv(ctx context.Context, flags *globalFlags) (*env, error) {
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chain configured in %s", flags.configPath)
	}
	ch := &cfg.Chains[0]
	if flags.chainID != 0 {
		if ch, err = cfg.Chain(flags.chainID); err != nil {
			return nil, err
		}
	}
	instance, err := ch.Instance(flags.token)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, ch.RPC)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", types.ErrNetwork, ch.RPC, err)
	}
	e := &env{
		cfg:      cfg,
		log:      log,
		chain:    ch,
		instance: instance,
		client:   client,
		closers:  []func() error{func() error { client.Close(); return nil }},
	}
	e.pool = chain.NewPool(client, instance.Pool, log)
	if ch.Registrar != (common.Address{}) {
		e.registrar = chain.NewRegistrar(client, ch.Registrar, ch.RegistrarBlock, log)
	}

	key := cache.Key{ChainID: ch.ChainID, Token: instance.Token}
	var store events.Store
	if cfg.Cache.EventsDB != "" {
		db, err := events.OpenLevelDBStore(filepath.Join(cfg.Cache.EventsDB, fmt.Sprintf("%d_%s", ch.ChainID, instance.Token)))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, db.Close)
		store = db
	} else {
		store = events.NewZipStore(cfg.Cache.Dir, key, log)
	}
	e.syncer = events.NewSyncer(e.pool, store, instance.DeployedBlock, cfg.Events, log)

	registry := treesync.NewRegistry()
	var src cache.Source = cache.DirSource{Root: cfg.Cache.Dir}
	if cfg.Cache.BaseURL != "" {
		src = cache.HTTPSource{BaseURL: cfg.Cache.BaseURL}
	}
	reader := cache.NewReader(src)
	for _, in := range ch.Instances {
		zero, err := in.ZeroElement()
		if err != nil {
			e.Close()
			return nil, err
		}
		registry.Register(treesync.NewService(treesync.Config{
			ChainID: ch.ChainID,
			Token:   in.Token,
			Levels:  in.Levels,
			Zero:    zero,
			Parts:   cfg.Cache.Parts,
		}, reader, e.pool, log))
	}
	if e.trees, err = registry.Service(instance.Token); err != nil {
		e.Close()
		return nil, err
	}
	e.scanner = wallet.NewScanner(e.pool, log)
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn().Err(err).Msg("close")
		}
	}
}

func (e *env) builder() *prover.Builder {
	p := prover.NewPlonkProver(e.instance.Levels, e.log)
	return prover.NewBuilder(prover.Config{
		Levels:   e.instance.Levels,
		Circuits: e.cfg.Circuits.CircuitPaths(),
	}, e.syncer, e.trees, e.scanner, p, e.log)
}

func (e *env) relayer() (*relayer.Client, error) {
	if e.chain.Relayer == "" {
		return nil, fmt.Errorf("no relayer configured for chain %d", e.chain.ChainID)
	}
	return relayer.NewClient(e.chain.Relayer, e.log), nil
}

// receiver resolves a shielded address, or a chain address through the
// registrar.
func (e *env) receiver(ctx context.Context, to string) (*types.KeyPair, error) {
	if common.IsHexAddress(to) {
		if e.registrar == nil {
			return nil, fmt.Errorf("no registrar configured to resolve %s", to)
		}
		return e.registrar.KeyPairOf(ctx, common.HexToAddress(to))
	}
	return types.KeyPairFromAddress(to)
}

// shieldedKey reads the spending key from the flag or ZKPOOL_KEY.
func shieldedKey(hex string) (*types.KeyPair, error) {
	if hex == "" {
		hex = os.Getenv("ZKPOOL_KEY")
	}
	if hex == "" {
		return nil, fmt.Errorf("a shielded private key is required (--key or ZKPOOL_KEY)")
	}
	return types.KeyPairFromHex(hex)
}

// accountKey reads the chain account key from the flag or ZKPOOL_ETH_KEY.
func accountKey(hex string) (*ecdsa.PrivateKey, error) {
	if hex == "" {
		hex = os.Getenv("ZKPOOL_ETH_KEY")
	}
	if hex == "" {
		return nil, fmt.Errorf("an account private key is required (--eth-key or ZKPOOL_ETH_KEY)")
	}
	return crypto.HexToECDSA(strings.TrimPrefix(hex, "0x"))
}

// parseUnits parses a decimal token amount such as "0.1" into base units.
func parseUnits(s string, decimals int) (*uint256.Int, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: empty amount", types.ErrInvalidAmount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", types.ErrInvalidAmount, s, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidAmount, s)
	}
	amount, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s is too large", types.ErrInvalidAmount, s)
	}
	return amount, nil
}

// formatUnits renders base units as a decimal token amount.
func formatUnits(v *uint256.Int, decimals int) string {
	s := v.Dec()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
