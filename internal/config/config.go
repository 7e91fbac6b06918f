// Package config defines the top-level configuration for the arbitrage scanner
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/token"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by JUPARB_* environment variables.
type Config struct {
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Executor ExecutorConfig `toml:"executor"`
	Solana   SolanaConfig   `toml:"solana"`
	Wallet   WalletConfig   `toml:"wallet"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// JupiterConfig holds the quote API endpoints and retry policy.
type JupiterConfig struct {
	// Endpoints are tried in order on every call: primary first, then mirrors.
	Endpoints      []string `toml:"endpoints"`
	SlippageBps    int      `toml:"slippage_bps"`
	RequestTimeout duration `toml:"request_timeout"`
	RetryBackoff   duration `toml:"retry_backoff"`
	// RateLimitPerSecond throttles quote calls through Redis when Redis is enabled.
	RateLimitPerSecond int `toml:"rate_limit_per_second"`
}

// PairConfig is a TOML pair entry.
type PairConfig struct {
	TokenA string `toml:"token_a"`
	TokenB string `toml:"token_b"`
}

// ScannerConfig holds the scan loop parameters.
type ScannerConfig struct {
	Pairs                 []PairConfig `toml:"pairs"`
	MinProfitUSD          float64      `toml:"min_profit_usd"`
	MinProfitPercent      float64      `toml:"min_profit_percent"`
	TestVolume            float64      `toml:"test_volume"`
	ScanInterval          duration     `toml:"scan_interval"`
	PriorityDEXes         []string     `toml:"priority_dexes"`
	MaxPriceImpact        float64      `toml:"max_price_impact"`
	MaxSlippage           float64      `toml:"max_slippage"`
	PairDelay             duration     `toml:"pair_delay"`
	FreshnessWindow       duration     `toml:"freshness_window"`
	FailureThreshold      int          `toml:"failure_threshold"`
	ForcedOpportunityProb float64      `toml:"forced_opportunity_prob"`
	PriceCacheTTL         duration     `toml:"price_cache_ttl"`
	// Demo starts the scanner on synthetic data.
	Demo bool `toml:"demo"`
}

// ExecutorConfig holds execution gate parameters.
type ExecutorConfig struct {
	Enabled          bool     `toml:"enabled"`
	AutoExecute      bool     `toml:"auto_execute"`
	MinProfitUSD     float64  `toml:"min_profit_usd"`
	MaxAge           duration `toml:"max_age"`
	BatchDelay       duration `toml:"batch_delay"`
	ProfitGuardRatio float64  `toml:"profit_guard_ratio"`
	ComputeUnitLimit uint32   `toml:"compute_unit_limit"`
	ComputeUnitPrice uint64   `toml:"compute_unit_price"`

	// VaultProgramID wraps swaps in the vault's execute_arbitrage instruction when set.
	VaultProgramID       string `toml:"vault_program_id"`
	RouterProgramID      string `toml:"router_program_id"`
	VaultTokenAccount    string `toml:"vault_token_account"`
	ExecutorTokenAccount string `toml:"executor_token_account"`
}

// SolanaConfig holds RPC connection parameters.
type SolanaConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	Commitment     string   `toml:"commitment"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	MaxRetries     int      `toml:"max_retries"`
}

// WalletConfig holds the executor keypair source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls scan snapshots and history archival.
type ArchiveConfig struct {
	SnapshotScans bool   `toml:"snapshot_scans"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "100ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimitPerIP int      `toml:"rate_limit_per_ip"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Jupiter: JupiterConfig{
			Endpoints: []string{
				"https://quote-api.jup.ag/v6",
				"https://jupiter-swap-api.quiknode.pro/v6",
				"https://quote-api.jup.ag/v6",
			},
			SlippageBps:        50,
			RequestTimeout:     duration{10 * time.Second},
			RetryBackoff:       duration{time.Second},
			RateLimitPerSecond: 10,
		},
		Scanner: ScannerConfig{
			Pairs: []PairConfig{
				{TokenA: token.MintSOL, TokenB: token.MintUSDC},
				{TokenA: token.MintSOL, TokenB: token.MintUSDT},
				{TokenA: token.MintUSDC, TokenB: token.MintUSDT},
				{TokenA: token.MintMSOL, TokenB: token.MintUSDC},
				{TokenA: token.MintJTO, TokenB: token.MintUSDC},
				{TokenA: token.MintBONK, TokenB: token.MintUSDC},
			},
			MinProfitUSD:          5,
			MinProfitPercent:      0.5,
			TestVolume:            100,
			ScanInterval:          duration{30 * time.Second},
			PriorityDEXes:         []string{"Orca", "Raydium", "Jupiter", "Meteora", "Lifinity", "Serum", "Saber"},
			MaxPriceImpact:        1.0,
			MaxSlippage:           0.5,
			PairDelay:             duration{100 * time.Millisecond},
			FreshnessWindow:       duration{120 * time.Second},
			FailureThreshold:      3,
			ForcedOpportunityProb: 0.3,
			PriceCacheTTL:         duration{time.Minute},
		},
		Executor: ExecutorConfig{
			Enabled:          false,
			AutoExecute:      false,
			MinProfitUSD:     5,
			MaxAge:           duration{60 * time.Second},
			BatchDelay:       duration{2 * time.Second},
			ProfitGuardRatio: 0.9,
			ComputeUnitLimit: 1_400_000,
			ComputeUnitPrice: 50_000,
		},
		Solana: SolanaConfig{
			RPCURL:         "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			ConfirmTimeout: duration{60 * time.Second},
			MaxRetries:     3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "jupiterarb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			SnapshotScans: true,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           3002,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerIP: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_high", "execution_confirmed", "execution_failed", "degraded_mode"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"server":  true,
	"execute": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// NeedsExecutor reports whether the mode submits transactions.
func (c *Config) NeedsExecutor() bool {
	m := strings.ToLower(c.Mode)
	return c.Executor.Enabled && (m == "execute" || m == "full")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, server, execute, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Jupiter
	if len(c.Jupiter.Endpoints) == 0 {
		errs = append(errs, "jupiter: at least one endpoint is required")
	}
	for i, ep := range c.Jupiter.Endpoints {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Sprintf("jupiter: endpoints[%d] %q must be an http(s) URL", i, ep))
		}
	}
	if c.Jupiter.SlippageBps < 0 || c.Jupiter.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("jupiter: slippage_bps must be 0-10000, got %d", c.Jupiter.SlippageBps))
	}
	if c.Jupiter.RequestTimeout.Duration <= 0 {
		errs = append(errs, "jupiter: request_timeout must be > 0")
	}
	if c.Jupiter.RetryBackoff.Duration < 0 {
		errs = append(errs, "jupiter: retry_backoff must be >= 0")
	}

	// Scanner
	if len(c.Scanner.Pairs) == 0 {
		errs = append(errs, "scanner: at least one pair is required")
	}
	for i, p := range c.Scanner.Pairs {
		if p.TokenA == "" || p.TokenB == "" {
			errs = append(errs, fmt.Sprintf("scanner: pairs[%d] needs token_a and token_b", i))
		} else if p.TokenA == p.TokenB {
			errs = append(errs, fmt.Sprintf("scanner: pairs[%d] token_a and token_b must differ", i))
		}
	}
	if c.Scanner.MinProfitUSD < 0 {
		errs = append(errs, "scanner: min_profit_usd must be >= 0")
	}
	if c.Scanner.MinProfitPercent < 0 {
		errs = append(errs, "scanner: min_profit_percent must be >= 0")
	}
	if c.Scanner.TestVolume <= 0 {
		errs = append(errs, "scanner: test_volume must be > 0")
	}
	if c.Scanner.ScanInterval.Duration <= 0 {
		errs = append(errs, "scanner: scan_interval must be > 0")
	}
	if c.Scanner.MaxPriceImpact <= 0 {
		errs = append(errs, "scanner: max_price_impact must be > 0")
	}
	if c.Scanner.MaxSlippage < 0 || c.Scanner.MaxSlippage > 100 {
		errs = append(errs, "scanner: max_slippage must be 0-100")
	}
	if c.Scanner.FailureThreshold < 1 {
		errs = append(errs, "scanner: failure_threshold must be >= 1")
	}
	if c.Scanner.ForcedOpportunityProb < 0 || c.Scanner.ForcedOpportunityProb > 1 {
		errs = append(errs, "scanner: forced_opportunity_prob must be 0-1")
	}

	// Executor
	if c.NeedsExecutor() {
		if c.Wallet.PrivateKey == "" && c.Wallet.KeypairPath == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: private_key, keypair_path or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Solana.RPCURL == "" {
			errs = append(errs, "solana: rpc_url must not be empty")
		}
		if c.Executor.VaultProgramID != "" && c.Executor.RouterProgramID == "" {
			errs = append(errs, "executor: router_program_id is required with vault_program_id")
		}
	}
	if c.Executor.ProfitGuardRatio <= 0 || c.Executor.ProfitGuardRatio > 1 {
		errs = append(errs, "executor: profit_guard_ratio must be in (0, 1]")
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: unknown commitment %q", c.Solana.Commitment))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ScannerDomainConfig converts the TOML scanner section into the runtime config.
func (c *Config) ScannerDomainConfig() domain.ScannerConfig {
	pairs := make([]domain.PairConfig, 0, len(c.Scanner.Pairs))
	for _, p := range c.Scanner.Pairs {
		pairs = append(pairs, domain.PairConfig{TokenA: p.TokenA, TokenB: p.TokenB})
	}
	return domain.ScannerConfig{
		Pairs:            pairs,
		MinProfitUSD:     c.Scanner.MinProfitUSD,
		MinProfitPercent: c.Scanner.MinProfitPercent,
		TestVolume:       c.Scanner.TestVolume,
		ScanInterval:     c.Scanner.ScanInterval.Duration,
		PriorityDEXes:    append([]string(nil), c.Scanner.PriorityDEXes...),
		MaxPriceImpact:   c.Scanner.MaxPriceImpact,
		MaxSlippage:      c.Scanner.MaxSlippage,
	}
}
