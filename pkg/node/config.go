package node

import (
	"io/ioutil"
	"time"

	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is the node configuration.
type Config struct {
	KeyFile     string `yaml:"key_file"`
	GenesisFile string `yaml:"genesis_file"`

	// DataDir holds the chain and the prepared certificates, the
	// node keeps everything in memory when it is empty.
	DataDir     string   `yaml:"data_dir"`
	Listen      string   `yaml:"listen"`
	Peers       []string `yaml:"peers"`
	MetricsAddr string   `yaml:"metrics_addr"`
	RPCAddr     string   `yaml:"rpc_addr"`
	LogLevel    string   `yaml:"log_level"`

	TxnPoolSize  int           `yaml:"txn_pool_size"`
	MaxBlockTxns int           `yaml:"max_block_txns"`
	BlockPeriod  time.Duration `yaml:"block_period"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	Consensus consensus.Config `yaml:"consensus"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8008",
		LogLevel:     "info",
		TxnPoolSize:  10000,
		MaxBlockTxns: 1000,
		BlockPeriod:  time.Second,
		SyncInterval: 5 * time.Second,
		Consensus:    consensus.DefaultConfig(),
	}
}

// LoadConfig reads the YAML configuration file, the fields missing
// from the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}

	err = yaml.UnmarshalStrict(b, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config file %s", path)
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.KeyFile == "" {
		return errors.New("key file is not set")
	}

	if c.GenesisFile == "" {
		return errors.New("genesis file is not set")
	}

	if c.TxnPoolSize <= 0 || c.MaxBlockTxns <= 0 {
		return errors.New("transaction pool size and block size must be positive")
	}

	if c.BlockPeriod < 0 || c.BlockPeriod >= c.Consensus.RequestTimeout {
		return errors.New("block period must be below the request timeout")
	}

	if c.SyncInterval <= 0 {
		return errors.New("sync interval must be positive")
	}

	return errors.Wrap(c.Consensus.Validate(), "consensus config")
}
