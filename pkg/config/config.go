package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	ConfigFileName = ".coinsafe.json"
	DataDirName    = ".coinsafe"
)

// Address formats understood by the validation package.
const (
	AddressFormatTron = "tron"
	AddressFormatEVM  = "evm"
)

// TokenConfig describes a token tracked on a network.
type TokenConfig struct {
	ID       string `json:"id"` // CoinGecko id, used for price lookups
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Contract string `json:"contract"`
	Decimals int    `json:"decimals"`
}

// NetworkConfig holds a selectable network and its token list.
type NetworkConfig struct {
	Name          string        `json:"name"`
	Label         string        `json:"label,omitempty"`
	AddressFormat string        `json:"address_format"`
	RPCURLs       []string      `json:"rpc_urls,omitempty"`
	ChainID       int64         `json:"chain_id,omitempty"`
	ExplorerURL   string        `json:"explorer_url,omitempty"`
	Tokens        []TokenConfig `json:"tokens"`
}

// TxURL links a transaction hash on the network's block explorer.
func (n NetworkConfig) TxURL(hash string) string {
	if n.ExplorerURL == "" || hash == "" {
		return ""
	}
	base := strings.TrimRight(n.ExplorerURL, "/")
	if n.AddressFormat == AddressFormatEVM {
		return base + "/tx/" + hash
	}
	return base + "/transaction/" + hash
}

// Config holds application-wide settings. Values missing from the file are filled
// from the environment and then from the env-default tags.
type Config struct {
	BackendURL  string          `json:"backend_url" env:"COINSAFE_BACKEND_URL" env-default:"http://localhost:8000"`
	OracleURL   string          `json:"oracle_url" env:"COINSAFE_ORACLE_URL" env-default:"https://coinsafe-tron-server.vercel.app"`
	RefreshPath string          `json:"refresh_path" env:"COINSAFE_REFRESH_PATH" env-default:"/auth/refresh"`
	Network     string          `json:"network" env:"COINSAFE_NETWORK" env-default:"mainnet"`
	Networks    []NetworkConfig `json:"networks"`

	RequestTimeoutSeconds  int `json:"request_timeout_seconds" env:"COINSAFE_REQUEST_TIMEOUT" env-default:"15"`
	PricesWindowSeconds    int `json:"prices_window_seconds" env:"COINSAFE_PRICES_WINDOW" env-default:"60"`
	BalancesWindowSeconds  int `json:"balances_window_seconds" env:"COINSAFE_BALANCES_WINDOW" env-default:"60"`
	ChainWindowSeconds     int `json:"chain_window_seconds" env:"COINSAFE_CHAIN_WINDOW" env-default:"180"`
	InFlightCeilingSeconds int `json:"inflight_ceiling_seconds" env:"COINSAFE_INFLIGHT_CEILING" env-default:"30"`
	PollIntervalSeconds    int `json:"poll_interval_seconds" env:"COINSAFE_POLL_INTERVAL" env-default:"30"`

	DataDir  string `json:"data_dir,omitempty" env:"COINSAFE_DATA_DIR"`
	RedisURL string `json:"redis_url,omitempty" env:"COINSAFE_REDIS_URL"`
	LogLevel string `json:"log_level" env:"COINSAFE_LOG_LEVEL" env-default:"info"`
	LogFile  string `json:"log_file,omitempty" env:"COINSAFE_LOG_FILE"`

	PrivacyTimeoutSeconds int `json:"privacy_timeout_seconds" env-default:"60"`
	FiatDecimals          int `json:"fiat_decimals" env-default:"2"`
	TokenDecimals         int `json:"token_decimals" env-default:"4"`
}

// DefaultNetworks is used when the config file declares none.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			Name:          "mainnet",
			Label:         "Tron Mainnet",
			AddressFormat: AddressFormatTron,
			ExplorerURL:   "https://tronscan.org/#",
			Tokens: []TokenConfig{
				{ID: "tether", Symbol: "USDT", Name: "Tether", Contract: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6},
				{ID: "usd-coin", Symbol: "USDC", Name: "USD Coin", Contract: "TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8", Decimals: 6},
				{ID: "just", Symbol: "JST", Name: "JUST", Contract: "TCFLL5dx5ZJdKnWuesXxi1VPwjLVmWZZy9", Decimals: 18},
			},
		},
		{
			Name:          "nile",
			Label:         "Nile Testnet",
			AddressFormat: AddressFormatTron,
			ExplorerURL:   "https://nile.tronscan.org/#",
			Tokens: []TokenConfig{
				{ID: "tether", Symbol: "USDT", Name: "Tether", Contract: "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", Decimals: 6},
			},
		},
		{
			Name:          "arbitrum-one",
			Label:         "Arbitrum One",
			AddressFormat: AddressFormatEVM,
			RPCURLs:       []string{"https://arb1.arbitrum.io/rpc"},
			ChainID:       42161,
			ExplorerURL:   "https://arbiscan.io",
			Tokens: []TokenConfig{
				{ID: "usd-coin", Symbol: "USDC", Name: "USD Coin", Contract: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
			},
		},
		{
			Name:          "arbitrum-sepolia",
			Label:         "Arbitrum Sepolia",
			AddressFormat: AddressFormatEVM,
			RPCURLs:       []string{"https://sepolia-rollup.arbitrum.io/rpc"},
			ChainID:       421614,
			ExplorerURL:   "https://sepolia.arbiscan.io",
		},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads the config at path. A missing file yields the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return LoadConfig(strings.NewReader("{}"))
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("overlay env: %w", err)
	}
	if len(cfg.Networks) == 0 {
		cfg.Networks = DefaultNetworks()
	}
	if _, ok := cfg.NetworkByName(cfg.Network); !ok {
		cfg.Network = cfg.Networks[0].Name
	}
	return &cfg, nil
}

// Validate checks the invariants SaveConfig relies on.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("validation failed: configuration must have at least one network")
	}
	seen := make(map[string]bool)
	for i, n := range c.Networks {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("validation failed: network at index %d has no name", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("validation failed: duplicate network %s", n.Name)
		}
		seen[n.Name] = true
		if n.AddressFormat != AddressFormatTron && n.AddressFormat != AddressFormatEVM {
			return fmt.Errorf("validation failed: network %s has unknown address format %q", n.Name, n.AddressFormat)
		}
	}
	if !seen[c.Network] {
		return fmt.Errorf("validation failed: active network %s is not configured", c.Network)
	}
	if c.PricesWindowSeconds <= 0 || c.BalancesWindowSeconds <= 0 || c.ChainWindowSeconds <= 0 {
		return fmt.Errorf("validation failed: cache windows must be positive")
	}
	return nil
}

// NetworkByName returns the network with the given name.
func (c *Config) NetworkByName(name string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// ActiveNetwork returns the currently selected network.
func (c *Config) ActiveNetwork() NetworkConfig {
	n, _ := c.NetworkByName(c.Network)
	return n
}

// NextNetwork returns the network after name in declaration order, wrapping around.
func (c *Config) NextNetwork(name string) string {
	for i, n := range c.Networks {
		if n.Name == name {
			return c.Networks[(i+1)%len(c.Networks)].Name
		}
	}
	return c.Networks[0].Name
}

func (c *Config) RefreshURL() string {
	return strings.TrimRight(c.BackendURL, "/") + "/" + strings.TrimLeft(c.RefreshPath, "/")
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) PricesWindow() time.Duration {
	return time.Duration(c.PricesWindowSeconds) * time.Second
}

func (c *Config) BalancesWindow() time.Duration {
	return time.Duration(c.BalancesWindowSeconds) * time.Second
}

func (c *Config) ChainWindow() time.Duration {
	return time.Duration(c.ChainWindowSeconds) * time.Second
}

func (c *Config) InFlightCeiling() time.Duration {
	return time.Duration(c.InFlightCeilingSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DataPath returns the directory holding persisted state, creating nothing.
func (c *Config) DataPath() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DataDirName), nil
}

// LogPath returns the log file used while the TUI owns the terminal.
func (c *Config) LogPath() (string, error) {
	if c.LogFile != "" {
		return c.LogFile, nil
	}
	dir, err := c.DataPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "coinsafe.log"), nil
}

func SaveConfig(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
