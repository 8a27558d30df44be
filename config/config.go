package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"swapexec/pkg/execution"
)

const envPrefix = "SWAPEXEC"

// Config holds the application configuration
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainName  string
	JWTToken   string

	API           APIConfig
	Gas           GasConfig
	Confirmations uint64
	PollInterval  time.Duration
	ApproveExact  bool
	// HistoryFile is the run journal; empty means $HOME/.swapexec-history.json
	HistoryFile string
}

// APIConfig configures the quote/plan service.
type APIConfig struct {
	BaseURL string
	Key     string
	Timeout time.Duration
}

// GasConfig holds the static gas limits and retry tuning.
type GasConfig struct {
	ApprovalFallback   uint64
	SwapFallback       uint64
	RebalanceFallback  uint64
	RetryMultiplierPct uint64
	SwapRetryLimit     uint64
}

// Load reads configuration from the config file, environment variables and
// defaults, in increasing order of precedence for env over file. An empty
// configFile searches $HOME and the working directory for .swapexec.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".swapexec")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	// Set default values
	v.SetDefault("chain_name", "eth")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("gas.approval_fallback", execution.DefaultApprovalGasFallback)
	v.SetDefault("gas.swap_fallback", execution.DefaultSwapGasFallback)
	v.SetDefault("gas.rebalance_fallback", execution.DefaultRebalanceGasFallback)
	v.SetDefault("gas.retry_multiplier_pct", 150)
	v.SetDefault("gas.swap_retry_limit", execution.DefaultSwapRetryGasLimit)
	v.SetDefault("confirmations", execution.DefaultConfirmations)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("approve_exact", false)

	// Read from environment variables, api.key -> SWAPEXEC_API_KEY
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		RPCURL:     v.GetString("rpc_url"),
		PrivateKey: v.GetString("private_key"),
		ChainName:  v.GetString("chain_name"),
		JWTToken:   v.GetString("oneclick.jwt_token"),
		API: APIConfig{
			BaseURL: v.GetString("api.base_url"),
			Key:     v.GetString("api.key"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Gas: GasConfig{
			ApprovalFallback:   v.GetUint64("gas.approval_fallback"),
			SwapFallback:       v.GetUint64("gas.swap_fallback"),
			RebalanceFallback:  v.GetUint64("gas.rebalance_fallback"),
			RetryMultiplierPct: v.GetUint64("gas.retry_multiplier_pct"),
			SwapRetryLimit:     v.GetUint64("gas.swap_retry_limit"),
		},
		Confirmations: v.GetUint64("confirmations"),
		PollInterval:  v.GetDuration("poll_interval"),
		ApproveExact:  v.GetBool("approve_exact"),
		HistoryFile:   v.GetString("history_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gas.ApprovalFallback == 0 || c.Gas.SwapFallback == 0 || c.Gas.RebalanceFallback == 0 {
		return errors.New("gas fallbacks must be positive")
	}
	if c.Gas.RetryMultiplierPct <= 100 {
		return fmt.Errorf("gas.retry_multiplier_pct must be above 100, got %d", c.Gas.RetryMultiplierPct)
	}
	if c.Confirmations == 0 {
		return errors.New("confirmations must be at least 1")
	}
	return nil
}

// RequireChain checks the settings needed to sign and send transactions.
func (c *Config) RequireChain() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL not configured. Please set %s_RPC_URL or rpc_url in .swapexec.yaml", envPrefix)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key not configured. Please set %s_PRIVATE_KEY or private_key in .swapexec.yaml", envPrefix)
	}
	return nil
}

// RequireAPI checks the settings needed to reach the quote service.
func (c *Config) RequireAPI() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("quote service URL not configured. Please set %s_API_BASE_URL or api.base_url in .swapexec.yaml", envPrefix)
	}
	return nil
}

func (c *Config) GasFallbacks() execution.GasFallbacks {
	return execution.GasFallbacks{
		Approval:  c.Gas.ApprovalFallback,
		Swap:      c.Gas.SwapFallback,
		Rebalance: c.Gas.RebalanceFallback,
	}
}

// RetryPolicies maps the configured multiplier onto every transaction kind;
// swaps additionally retry with at least SwapRetryLimit.
func (c *Config) RetryPolicies() execution.RetryPolicies {
	multiplier := execution.RetryPolicy{Numerator: c.Gas.RetryMultiplierPct, Denominator: 100}
	swap := multiplier
	swap.FixedLimit = c.Gas.SwapRetryLimit
	return execution.RetryPolicies{
		Approval:  multiplier,
		Swap:      swap,
		Rebalance: multiplier,
	}
}

func (c *Config) ApprovalPolicy() execution.ApprovalPolicy {
	if c.ApproveExact {
		return execution.ApproveExact
	}
	return execution.ApproveMax
}
