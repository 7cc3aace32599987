package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/treesync"
	"gopkg.in/yaml.v3"
)

const DefaultLevels = 20

type Config struct {
	Log      LogConfig          `yaml:"log"`
	Chains   []ChainConfig      `yaml:"chains"`
	Events   events.FetchConfig `yaml:"events"`
	Cache    CacheConfig        `yaml:"cache"`
	Circuits CircuitsConfig     `yaml:"circuits"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ChainConfig struct {
	ChainID   uint64         `yaml:"chainId"`
	RPC       string         `yaml:"rpc"`
	Registrar common.Address `yaml:"registrar"`
	// RegistrarBlock is the block the registrar was deployed at.
	RegistrarBlock uint64           `yaml:"registrarBlock"`
	Relayer        string           `yaml:"relayer"`
	Instances      []InstanceConfig `yaml:"instances"`
}

// InstanceConfig describes one pool contract.
type InstanceConfig struct {
	Token         string         `yaml:"token"`
	Pool          common.Address `yaml:"pool"`
	DeployedBlock uint64         `yaml:"deployedBlock"`
	Levels        int            `yaml:"levels"`
	// Zero is the empty leaf value in hex; merkle.DefaultZero when empty.
	Zero string `yaml:"zero"`
}

// CacheConfig locates the published artifacts. BaseURL wins over Dir for
// reading; artifacts are always written under Dir.
type CacheConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"baseUrl"`
	Parts   int    `yaml:"parts"`
	// EventsDB is the leveldb directory for event logs; the zipped JSON
	// artifacts under Dir are used when empty.
	EventsDB string `yaml:"eventsDb"`
}

type CircuitsConfig struct {
	Dir   string             `yaml:"dir"`
	Small prover.CircuitPath `yaml:"small"`
	Large prover.CircuitPath `yaml:"large"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Pretty: true},
		Events: events.DefaultFetchConfig(),
		Cache:  CacheConfig{Dir: "cache", Parts: treesync.DefaultParts},
		Circuits: CircuitsConfig{
			Dir: "circuits",
		},
	}
}

// Load reads path over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	seen := make(map[uint64]bool)
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.ChainID == 0 {
			return fmt.Errorf("chains[%d]: chainId is required", i)
		}
		if seen[ch.ChainID] {
			return fmt.Errorf("chain %d configured twice", ch.ChainID)
		}
		seen[ch.ChainID] = true
		for j := range ch.Instances {
			in := &ch.Instances[j]
			if in.Token == "" {
				return fmt.Errorf("chain %d instances[%d]: token is required", ch.ChainID, j)
			}
			if in.Levels == 0 {
				in.Levels = DefaultLevels
			}
			if in.Levels < 0 || in.Levels > merkle.MaxLevels {
				return fmt.Errorf("chain %d %s: invalid levels %d", ch.ChainID, in.Token, in.Levels)
			}
			if _, err := in.ZeroElement(); err != nil {
				return fmt.Errorf("chain %d %s: zero: %w", ch.ChainID, in.Token, err)
			}
		}
	}
	if c.Cache.Parts <= 0 {
		c.Cache.Parts = treesync.DefaultParts
	}
	return nil
}

func (in *InstanceConfig) ZeroElement() (fr.Element, error) {
	if in.Zero == "" {
		return merkle.DefaultZero, nil
	}
	return utils.HexToElement(in.Zero)
}

// Chain returns the chain with id.
func (c *Config) Chain(id uint64) (*ChainConfig, error) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == id {
			return &c.Chains[i], nil
		}
	}
	return nil, fmt.Errorf("chain %d is not configured", id)
}

func (ch *ChainConfig) Instance(token string) (*InstanceConfig, error) {
	for i := range ch.Instances {
		if ch.Instances[i].Token == token {
			return &ch.Instances[i], nil
		}
	}
	return nil, fmt.Errorf("token %s is not configured on chain %d", token, ch.ChainID)
}

// CircuitPaths maps input counts to circuit files. Unset paths fall back to
// transaction{N}.ccs and transaction{N}.zkey under Dir.
func (c *CircuitsConfig) CircuitPaths() map[int]prover.CircuitPath {
	def := func(p prover.CircuitPath, n int) prover.CircuitPath {
		name := fmt.Sprintf("transaction%d", n)
		if p.Circuit == "" {
			p.Circuit = filepath.Join(c.Dir, name+".ccs")
		}
		if p.ZKey == "" {
			p.ZKey = filepath.Join(c.Dir, name+".zkey")
		}
		return p
	}
	return map[int]prover.CircuitPath{
		prover.SmallInputs: def(c.Small, prover.SmallInputs),
		prover.LargeInputs: def(c.Large, prover.LargeInputs),
	}
}
