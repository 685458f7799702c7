package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. PENGUIN_RELAY_URL.
const EnvPrefix = "penguin"

// DefaultBlobType is the Move struct type of certified blob objects.
const DefaultBlobType = "0xd84704c17fc870b8764832c535aa6b11f21a95cd6f5bb38a9b07d2cf42220c66::blob::Blob"

// Config represents the global ~/.penguinchat/config.toml.
type Config struct {
	DefaultWallet string        `toml:"default_wallet" envconfig:"default_wallet"`
	Relay         RelayConfig   `toml:"relay" envconfig:"relay"`
	Store         StoreConfig   `toml:"store" envconfig:"store"`
	Blob          BlobConfig    `toml:"blob" envconfig:"blob"`
	Ledger        LedgerConfig  `toml:"ledger" envconfig:"ledger"`
	Backup        BackupConfig  `toml:"backup" envconfig:"backup"`
	Control       ControlConfig `toml:"control" envconfig:"control"`
}

// RelayConfig is shared by the relay server (Listen, MailboxLimit) and the
// client link (URL, HTTPURL and the reconnect settings).
type RelayConfig struct {
	URL               string        `toml:"url" envconfig:"url"`
	HTTPURL           string        `toml:"http_url" envconfig:"http_url"`
	Listen            string        `toml:"listen" envconfig:"listen"`
	MailboxLimit      int           `toml:"mailbox_limit" envconfig:"mailbox_limit"`
	ReconnectDelay    time.Duration `toml:"reconnect_delay" envconfig:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `toml:"reconnect_max_delay" envconfig:"reconnect_max_delay"`
	PingInterval      time.Duration `toml:"ping_interval" envconfig:"ping_interval"`
	SendTimeout       time.Duration `toml:"send_timeout" envconfig:"send_timeout"`
}

type StoreConfig struct {
	Engine string `toml:"engine" envconfig:"engine"`
}

// BlobConfig selects the blob backend: "memory" or "walrus".
type BlobConfig struct {
	Backend       string `toml:"backend" envconfig:"backend"`
	PublisherURL  string `toml:"publisher_url" envconfig:"publisher_url"`
	AggregatorURL string `toml:"aggregator_url" envconfig:"aggregator_url"`
	Epochs        int    `toml:"epochs" envconfig:"epochs"`
	Deletable     bool   `toml:"deletable" envconfig:"deletable"`
}

// LedgerConfig selects the ownership registry: "memory" or "sui".
type LedgerConfig struct {
	Backend  string `toml:"backend" envconfig:"backend"`
	RPCURL   string `toml:"rpc_url" envconfig:"rpc_url"`
	BlobType string `toml:"blob_type" envconfig:"blob_type"`
}

type BackupConfig struct {
	CallTimeout     time.Duration `toml:"call_timeout" envconfig:"call_timeout"`
	ScanConcurrency int           `toml:"scan_concurrency" envconfig:"scan_concurrency"`
	CacheSize       int           `toml:"cache_size" envconfig:"cache_size"`
	RecoverOnStart  bool          `toml:"recover_on_start" envconfig:"recover_on_start"`
}

type ControlConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout" envconfig:"request_timeout"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			URL:            "ws://localhost:3001/ws",
			HTTPURL:        "http://localhost:3001",
			Listen:         ":3001",
			ReconnectDelay: 5 * time.Second,
			PingInterval:   30 * time.Second,
			SendTimeout:    10 * time.Second,
		},
		Store: StoreConfig{Engine: "sqlite"},
		Blob: BlobConfig{
			Backend:       "memory",
			PublisherURL:  "https://publisher.walrus-testnet.walrus.space",
			AggregatorURL: "https://aggregator.walrus-testnet.walrus.space",
			Epochs:        1,
			Deletable:     true,
		},
		Ledger: LedgerConfig{
			Backend:  "memory",
			RPCURL:   "https://fullnode.testnet.sui.io:443",
			BlobType: DefaultBlobType,
		},
		Backup: BackupConfig{
			CallTimeout:     30 * time.Second,
			ScanConcurrency: 1,
			CacheSize:       128,
			RecoverOnStart:  true,
		},
		Control: ControlConfig{RequestTimeout: 60 * time.Second},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the TOML file at
// path if it exists, then variables from a .env file in the working directory,
// then PENGUIN_* environment variables.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
