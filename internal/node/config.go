// Package node wires the daemon's libp2p transport (standing in for a
// Nostr relay network) to the trade engine, the order book publisher, and
// the outbound gift-wrap queue. This file holds the configuration surface:
// transport settings (network type, listen addresses, DHT/mDNS toggles,
// connection manager tuning) alongside a Mostro section carrying the
// trade-policy parameters and a Lightning section naming the hold-invoice
// node to settle against.
package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkType represents the network (mainnet or testnet).
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Network-specific constants for peer separation.
const (
	MainnetDHTPrefix   = "/mostro"
	MainnetDiscoveryNS = "mostro-mainnet"

	TestnetDHTPrefix   = "/mostro-testnet"
	TestnetDiscoveryNS = "mostro-testnet"
)

// Config holds all configuration for the daemon.
type Config struct {
	NetworkType NetworkType `mapstructure:"network_type"`

	Identity  IdentityConfig  `mapstructure:"identity"`
	Network   NetworkConfig   `mapstructure:"network"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Mostro    MostroConfig    `mapstructure:"mostro"`
	Lightning LightningConfig `mapstructure:"lightning"`
	Price     PriceConfig     `mapstructure:"price"`
	RPC       RPCConfig       `mapstructure:"rpc"`
}

// DHTPrefix returns the DHT protocol prefix for the configured network.
func (c *Config) DHTPrefix() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDHTPrefix
	}
	return MainnetDHTPrefix
}

// DiscoveryNamespace returns the discovery namespace for the configured network.
func (c *Config) DiscoveryNamespace() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDiscoveryNS
	}
	return MainnetDiscoveryNS
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// IdentityConfig holds the libp2p transport identity, kept separate from
// the Mostro trade identity in MostroConfig: one is an Ed25519 host key
// libp2p uses to authenticate transport connections, the other a secp256k1
// key used for gift-wrap signing and ECDH, and the two must never be
// confused.
type IdentityConfig struct {
	// KeyFile is the path to the node's libp2p private key file.
	KeyFile string `mapstructure:"key_file"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	ListenAddrs        []string `mapstructure:"listen_addrs"`
	BootstrapPeers     []string `mapstructure:"bootstrap_peers"`
	EnableMDNS         bool     `mapstructure:"enable_mdns"`
	EnableDHT          bool     `mapstructure:"enable_dht"`
	EnableRelay        bool     `mapstructure:"enable_relay"`
	EnableNAT          bool     `mapstructure:"enable_nat"`
	EnableHolePunching bool     `mapstructure:"enable_hole_punching"`

	ConnMgr ConnMgrConfig `mapstructure:"conn_mgr"`
}

// ConnMgrConfig holds connection manager settings.
type ConnMgrConfig struct {
	LowWater    int           `mapstructure:"low_water"`
	HighWater   int           `mapstructure:"high_water"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	DBKeyHex string `mapstructure:"db_key_hex"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MostroConfig is the trade-policy section: the daemon's fee schedule,
// order limits, hold-invoice parameters, and admin roster. internal/trade.Config
// is built from a subset of these fields at startup; the identity, outbox,
// pow and publish settings have no counterpart there.
type MostroConfig struct {
	// IdentityKeyFile holds the daemon's secp256k1 trade identity, hex
	// encoded. If absent and Mnemonic is also empty, a fresh identity is
	// generated and written here on first run.
	IdentityKeyFile string `mapstructure:"identity_key_file"`
	// Mnemonic, if set, deterministically derives the trade identity
	// instead of reading/writing IdentityKeyFile.
	Mnemonic   string `mapstructure:"mnemonic"`
	Passphrase string `mapstructure:"passphrase"`

	FeePct                  float64       `mapstructure:"fee_pct"`
	DevFeePct               float64       `mapstructure:"dev_fee_pct"`
	MaxRoutingFeePct        float64       `mapstructure:"max_routing_fee_pct"`
	MaxOrderAmount          int64         `mapstructure:"max_order_amount"`
	MinOrderAmount          int64         `mapstructure:"min_order_amount"`
	MinPaymentAmount        int64         `mapstructure:"min_payment_amount"`
	ExpirationHours         int           `mapstructure:"expiration_hours"`
	ExpirationSeconds       int64         `mapstructure:"expiration_seconds"`
	MaxExpirationDays       int           `mapstructure:"max_expiration_days"`
	PaymentAttempts         int           `mapstructure:"payment_attempts"`
	PaymentRetriesInterval  time.Duration `mapstructure:"payment_retries_interval"`
	HoldInvoiceCLTVDelta    int32         `mapstructure:"hold_invoice_cltv_delta"`
	HoldInvoiceExpiration   time.Duration `mapstructure:"hold_invoice_expiration"`
	InvoiceExpirationWindow time.Duration `mapstructure:"invoice_expiration_window"`

	// LightningNode names the registry key of the Lightning node to use,
	// matching Lightning.Name below.
	LightningNode string `mapstructure:"lightning_node"`

	// AdminPubkeys lists identities authorized to call admin-add-solver.
	// The daemon's own trade identity is appended to this set at startup
	// regardless of what's configured here.
	AdminPubkeys []string `mapstructure:"admin_pubkeys"`

	// OutboxDrainInterval is the drain loop's tick (sub-second, so a fresh
	// reply goes out almost immediately); OutboxRetryInterval is how long a
	// sent-but-unacked message waits before it comes due again;
	// OutboxBatchSize caps how many messages one tick publishes.
	OutboxDrainInterval time.Duration `mapstructure:"outbox_drain_interval"`
	OutboxRetryInterval time.Duration `mapstructure:"outbox_retry_interval"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`

	// Pow is the proof-of-work difficulty advertised in the daemon-info
	// event for clients that honor it.
	Pow int `mapstructure:"pow"`

	// PublishRelaysInterval is how often the full order book is resynced
	// onto the relay substrate; PublishInfoInterval is how often the
	// daemon-info event is refreshed.
	PublishRelaysInterval time.Duration `mapstructure:"publish_relays_interval"`
	PublishInfoInterval   time.Duration `mapstructure:"publish_info_interval"`
}

// LightningConfig points at the single lnd node this daemon settles
// hold invoices against, mirroring lightning.LNDConfig.
type LightningConfig struct {
	Name         string `mapstructure:"name"`
	Host         string `mapstructure:"host"`
	TLSCertPath  string `mapstructure:"tls_cert_path"`
	MacaroonPath string `mapstructure:"macaroon_path"`
}

// PriceConfig selects the upstream fiat-rate provider, mirroring
// price.Config.
type PriceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RefreshPeriod  time.Duration `mapstructure:"refresh_period"`
	RequestRetries int           `mapstructure:"request_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	FiatCodes      []string      `mapstructure:"fiat_codes"`
}

// RPCConfig controls the local JSON-RPC introspection surface. It binds to
// loopback by default and carries no trading authority.
type RPCConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port"`
}

// Addr returns the listen address:port string for the RPC server.
func (c RPCConfig) Addr() string {
	host := c.ListenAddress
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 9090
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		Identity: IdentityConfig{
			KeyFile: "node.key",
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
				"/ip6/::/tcp/4001",
				"/ip6/::/udp/4001/quic-v1",
			},
			BootstrapPeers:     []string{},
			EnableMDNS:         true,
			EnableDHT:          true,
			EnableRelay:        true,
			EnableNAT:          true,
			EnableHolePunching: true,
			ConnMgr: ConnMgrConfig{
				LowWater:    100,
				HighWater:   400,
				GracePeriod: time.Minute,
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.mostrod",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Mostro: MostroConfig{
			IdentityKeyFile:         "mostro.key",
			FeePct:                  0.02,
			DevFeePct:               0.2,
			MaxRoutingFeePct:        0.001,
			MaxOrderAmount:          0,
			MinPaymentAmount:        100,
			ExpirationHours:         24,
			MaxExpirationDays:       14,
			PaymentAttempts:         3,
			PaymentRetriesInterval:  60 * time.Second,
			HoldInvoiceCLTVDelta:    144,
			HoldInvoiceExpiration:   time.Hour,
			InvoiceExpirationWindow: 10 * time.Minute,
			LightningNode:           "lnd",
			OutboxDrainInterval:     300 * time.Millisecond,
			OutboxRetryInterval:     30 * time.Second,
			OutboxBatchSize:         50,
			PublishRelaysInterval:   60 * time.Second,
			PublishInfoInterval:     5 * time.Minute,
		},
		Lightning: LightningConfig{
			Name: "lnd",
			Host: "127.0.0.1:10009",
		},
		Price: PriceConfig{
			BaseURL:        "https://api.yadio.io",
			RefreshPeriod:  60 * time.Second,
			RequestRetries: 4,
			RetryBackoff:   2 * time.Second,
			FiatCodes:      []string{"USD", "EUR", "VES", "ARS", "COP", "BRL"},
		},
		RPC: RPCConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1",
			Port:          9090,
		},
	}
}

// ConfigFileName is the default config file name, a TOML document per the
// wire protocol's own `mostro.toml` convention.
const ConfigFileName = "mostro.toml"

// LoadConfig loads configuration from a TOML file via viper. A MOSTRO_*
// environment variable (MOSTRO_MOSTRO_FEE_PCT for mostro.fee_pct,
// MOSTRO_LIGHTNING_HOST for lightning.host, and so on) overrides a key the
// file sets or one listed by bindableKeys; keys in neither take no env
// override. If the file doesn't exist, it creates one populated with default
// values and returns those defaults without reading the environment.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	v.SetEnvPrefix("MOSTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// AutomaticEnv only overrides keys viper already knows about from the
	// config file; bind the keys bindableKeys lists explicitly so a MOSTRO_*
	// var can override one of them even when the TOML file omits it.
	for _, key := range bindableKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	// Decoding a list into a prefilled default overwrites it index by index
	// and keeps the default's surplus entries; a list the file sets replaces
	// the default instead.
	if v.IsSet("network.listen_addrs") {
		cfg.Network.ListenAddrs = nil
	}
	if v.IsSet("price.fiat_codes") {
		cfg.Price.FiatCodes = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// bindableKeys lists every mapstructure key path viper should accept a
// MOSTRO_* override for, matching Config's field layout one section at a
// time.
func bindableKeys() []string {
	return []string{
		"network_type",
		"identity.key_file",
		"storage.data_dir",
		"storage.db_key_hex",
		"logging.level",
		"logging.file",
		"mostro.identity_key_file",
		"mostro.mnemonic",
		"mostro.passphrase",
		"mostro.fee_pct",
		"mostro.dev_fee_pct",
		"mostro.max_routing_fee_pct",
		"mostro.max_order_amount",
		"mostro.min_order_amount",
		"mostro.min_payment_amount",
		"mostro.expiration_hours",
		"mostro.expiration_seconds",
		"mostro.max_expiration_days",
		"mostro.payment_attempts",
		"mostro.payment_retries_interval",
		"mostro.hold_invoice_cltv_delta",
		"mostro.hold_invoice_expiration",
		"mostro.invoice_expiration_window",
		"mostro.lightning_node",
		"mostro.outbox_drain_interval",
		"mostro.outbox_retry_interval",
		"mostro.outbox_batch_size",
		"mostro.pow",
		"mostro.publish_relays_interval",
		"mostro.publish_info_interval",
		"lightning.name",
		"lightning.host",
		"lightning.tls_cert_path",
		"lightning.macaroon_path",
		"price.base_url",
		"price.refresh_period",
		"price.request_retries",
		"price.retry_backoff",
		"rpc.enabled",
		"rpc.listen_address",
		"rpc.port",
	}
}

// Save writes the configuration to a TOML file via viper.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("network_type", c.NetworkType)
	v.Set("identity", c.Identity)
	v.Set("network", c.Network)
	v.Set("storage", c.Storage)
	v.Set("logging", c.Logging)
	v.Set("mostro", c.Mostro)
	v.Set("lightning", c.Lightning)
	v.Set("price", c.Price)
	v.Set("rpc", c.RPC)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
