// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/wrapcycler/internal/account"
)

// Config holds wrapcycler configuration.
type Config struct {
	RPCURL      string
	ChainID     int64 // 0 = query eth_chainId
	WETHAddress string
	Iterations  int

	// Wallets come from WalletsFile when set, otherwise from the single
	// Address/PrivateKey pair.
	WalletsFile string
	Address     string
	PrivateKey  string

	MinPct      float64
	MaxPct      float64
	MinTimes    int
	MaxTimes    int
	MinDelaySec int
	MaxDelaySec int

	GasTipCap      int64 // EIP-1559 priority fee (tip) in wei
	GasFeeCap      int64 // EIP-1559 max fee per gas in wei (0 = auto from chain)
	WrapGasLimit   uint64
	UnwrapGasLimit uint64
	UseLegacy      bool
	ConfirmTimeout time.Duration // 0 = wait until cancelled

	ReportBalances bool
	PriceAPIURL    string
	PriceAsset     string

	DatabasePath       string // empty disables history
	ListenAddr         string // empty disables the status API
	CORSAllowedOrigins string
	LogLevel           string
	Seed               int64 // 0 = random
}

// Defaults
const (
	DefaultRPCURL             = "https://rpc.taiko.xyz"
	DefaultChainID            = 167000
	DefaultWETHAddress        = "0xa51894664a773981c6c112c43ce576f315d5b1b6"
	DefaultIterations         = 14 // more than 14 iterations hits the daily limit
	DefaultMinPct             = 0.08
	DefaultMaxPct             = 0.12
	DefaultMinTimes           = 3
	DefaultMaxTimes           = 6
	DefaultMinDelaySec        = 2
	DefaultMaxDelaySec        = 6
	DefaultGasTipCap          = 10_000_000 // 0.01 gwei
	DefaultGasFeeCap          = 0
	DefaultGasLimit           = 60_000
	DefaultPriceAPIURL        = "https://api.coingecko.com/api/v3"
	DefaultPriceAsset         = "ethereum"
	DefaultCORSAllowedOrigins = "*"
	DefaultLogLevel           = "info"
)

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		RPCURL:             DefaultRPCURL,
		ChainID:            DefaultChainID,
		WETHAddress:        DefaultWETHAddress,
		Iterations:         DefaultIterations,
		MinPct:             DefaultMinPct,
		MaxPct:             DefaultMaxPct,
		MinTimes:           DefaultMinTimes,
		MaxTimes:           DefaultMaxTimes,
		MinDelaySec:        DefaultMinDelaySec,
		MaxDelaySec:        DefaultMaxDelaySec,
		GasTipCap:          DefaultGasTipCap,
		GasFeeCap:          DefaultGasFeeCap,
		WrapGasLimit:       DefaultGasLimit,
		UnwrapGasLimit:     DefaultGasLimit,
		ReportBalances:     true,
		PriceAPIURL:        DefaultPriceAPIURL,
		PriceAsset:         DefaultPriceAsset,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
	}
}

// Load reads configuration from environment variables and then from args.
// Flags take precedence over environment variables.
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv, os.Stderr)
}

// load is Load with its environment and help output injected. A -h or -help
// flag writes the flag defaults to usage and returns flag.ErrHelp.
func load(args []string, getenv func(string) string, usage io.Writer) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("wrapcycler", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(usage, "Usage of %s:\n", fs.Name())
			fs.SetOutput(usage)
			fs.PrintDefaults()
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides defaults from the environment. Malformed values are
// reported rather than ignored.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	parse := func(key string, fn func(string) error) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
			}
		}
	}
	intVar := func(key string, dst *int) {
		parse(key, func(v string) (err error) { *dst, err = strconv.Atoi(v); return })
	}
	int64Var := func(key string, dst *int64) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseInt(v, 10, 64); return })
	}
	uint64Var := func(key string, dst *uint64) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseUint(v, 10, 64); return })
	}
	floatVar := func(key string, dst *float64) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseFloat(v, 64); return })
	}
	boolVar := func(key string, dst *bool) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseBool(v); return })
	}

	str("RPC_URL", &c.RPCURL)
	int64Var("CHAIN_ID", &c.ChainID)
	str("WETH_ADDRESS", &c.WETHAddress)
	intVar("ITERATIONS", &c.Iterations)
	str("WALLETS_FILE", &c.WalletsFile)
	str("ADDRESS", &c.Address)
	str("PRIVATE_KEY", &c.PrivateKey)
	floatVar("MIN_PCT", &c.MinPct)
	floatVar("MAX_PCT", &c.MaxPct)
	intVar("MIN_TIMES", &c.MinTimes)
	intVar("MAX_TIMES", &c.MaxTimes)
	intVar("MIN_DELAY_SEC", &c.MinDelaySec)
	intVar("MAX_DELAY_SEC", &c.MaxDelaySec)
	int64Var("GAS_TIP_CAP", &c.GasTipCap)
	int64Var("GAS_FEE_CAP", &c.GasFeeCap)
	uint64Var("WRAP_GAS_LIMIT", &c.WrapGasLimit)
	uint64Var("UNWRAP_GAS_LIMIT", &c.UnwrapGasLimit)
	boolVar("LEGACY_TX", &c.UseLegacy)
	parse("CONFIRM_TIMEOUT", func(v string) (err error) { c.ConfirmTimeout, err = time.ParseDuration(v); return })
	boolVar("REPORT_BALANCES", &c.ReportBalances)
	str("PRICE_API_URL", &c.PriceAPIURL)
	str("PRICE_ASSET", &c.PriceAsset)
	str("DATABASE_PATH", &c.DatabasePath)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("CORS_ALLOWED_ORIGINS", &c.CORSAllowedOrigins)
	str("LOG_LEVEL", &c.LogLevel)
	int64Var("SEED", &c.Seed)

	return errors.Join(errs...)
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RPCURL, "rpc", c.RPCURL, "JSON-RPC URL")
	fs.Int64Var(&c.ChainID, "chainid", c.ChainID, "Chain ID (0 = query the node)")
	fs.StringVar(&c.WETHAddress, "weth", c.WETHAddress, "WETH9 contract address")
	fs.IntVar(&c.Iterations, "iterations", c.Iterations, "Number of wrap/unwrap rounds")
	fs.StringVar(&c.WalletsFile, "wallets", c.WalletsFile, "YAML file listing {address, privateKey}")
	fs.Float64Var(&c.MinPct, "min-pct", c.MinPct, "Minimum fraction of balance per operation")
	fs.Float64Var(&c.MaxPct, "max-pct", c.MaxPct, "Maximum fraction of balance per operation")
	fs.IntVar(&c.MinTimes, "min-times", c.MinTimes, "Minimum operations per batch")
	fs.IntVar(&c.MaxTimes, "max-times", c.MaxTimes, "Maximum operations per batch")
	fs.IntVar(&c.MinDelaySec, "min-delay", c.MinDelaySec, "Minimum pause after an operation, seconds")
	fs.IntVar(&c.MaxDelaySec, "max-delay", c.MaxDelaySec, "Maximum pause after an operation, seconds")
	fs.Int64Var(&c.GasTipCap, "gastipcap", c.GasTipCap, "EIP-1559 priority fee (tip) in wei")
	fs.Int64Var(&c.GasFeeCap, "gasfeecap", c.GasFeeCap, "EIP-1559 max fee per gas in wei (0=auto)")
	fs.BoolVar(&c.UseLegacy, "legacy", c.UseLegacy, "Send legacy (type 0) transactions")
	fs.DurationVar(&c.ConfirmTimeout, "confirm-timeout", c.ConfirmTimeout, "Receipt wait limit (0 = until cancelled)")
	fs.BoolVar(&c.ReportBalances, "report", c.ReportBalances, "Log USD balances before and after the run")
	fs.StringVar(&c.PriceAPIURL, "price-url", c.PriceAPIURL, "CoinGecko API base URL")
	fs.StringVar(&c.PriceAsset, "price-asset", c.PriceAsset, "CoinGecko coin id of the native asset")
	fs.StringVar(&c.DatabasePath, "database", c.DatabasePath, "SQLite history path (empty = disabled)")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Status API listen address (empty = disabled)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Random seed (0 = random)")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if !common.IsHexAddress(c.WETHAddress) {
		return fmt.Errorf("invalid WETH address: %q", c.WETHAddress)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive")
	}
	if c.MinPct <= 0 || c.MinPct > c.MaxPct || c.MaxPct >= 1 {
		return fmt.Errorf("percentages must satisfy 0 < min (%v) <= max (%v) < 1", c.MinPct, c.MaxPct)
	}
	if c.MinTimes < 1 || c.MinTimes > c.MaxTimes {
		return fmt.Errorf("operation counts must satisfy 1 <= min (%d) <= max (%d)", c.MinTimes, c.MaxTimes)
	}
	if c.MinDelaySec < 1 || c.MinDelaySec > c.MaxDelaySec {
		return fmt.Errorf("delays must satisfy 1 <= min (%d) <= max (%d)", c.MinDelaySec, c.MaxDelaySec)
	}
	if c.GasTipCap < 0 {
		return fmt.Errorf("gas tip cap cannot be negative")
	}
	// GasFeeCap can be 0 (auto-calculate from chain) or positive
	if c.GasFeeCap < 0 {
		return fmt.Errorf("gas fee cap cannot be negative")
	}
	if c.GasFeeCap > 0 && c.GasFeeCap < c.GasTipCap {
		return fmt.Errorf("gas fee cap (%d) is below gas tip cap (%d)", c.GasFeeCap, c.GasTipCap)
	}
	if c.WrapGasLimit == 0 || c.UnwrapGasLimit == 0 {
		return fmt.Errorf("gas limits must be positive")
	}
	if c.ConfirmTimeout < 0 {
		return fmt.Errorf("confirm timeout cannot be negative")
	}
	if c.ReportBalances && (c.PriceAPIURL == "" || c.PriceAsset == "") {
		return fmt.Errorf("price API URL and asset are required when reporting balances")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.WalletsFile == "" && c.PrivateKey == "" {
		return fmt.Errorf("no wallets configured: set WALLETS_FILE or PRIVATE_KEY")
	}
	return nil
}

// Wallets loads the configured wallets, checking every key against its
// declared address.
func (c *Config) Wallets() ([]*account.Account, error) {
	return account.Load(c.WalletsFile, c.Address, c.PrivateKey)
}

// WETH returns the parsed wrapped-asset contract address.
func (c *Config) WETH() common.Address {
	return common.HexToAddress(c.WETHAddress)
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
}
