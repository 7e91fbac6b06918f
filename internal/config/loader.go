package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies JUPARB_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults and the
// environment are used instead. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known JUPARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Jupiter ──
	setStringSlice(&cfg.Jupiter.Endpoints, "JUPARB_JUPITER_ENDPOINTS")
	setInt(&cfg.Jupiter.SlippageBps, "JUPARB_JUPITER_SLIPPAGE_BPS")
	setDuration(&cfg.Jupiter.RequestTimeout, "JUPARB_JUPITER_REQUEST_TIMEOUT")
	setDuration(&cfg.Jupiter.RetryBackoff, "JUPARB_JUPITER_RETRY_BACKOFF")
	setInt(&cfg.Jupiter.RateLimitPerSecond, "JUPARB_JUPITER_RATE_LIMIT_PER_SECOND")

	// ── Scanner ──
	setPairs(&cfg.Scanner.Pairs, "JUPARB_SCANNER_PAIRS")
	setFloat64(&cfg.Scanner.MinProfitUSD, "JUPARB_SCANNER_MIN_PROFIT_USD")
	setFloat64(&cfg.Scanner.MinProfitPercent, "JUPARB_SCANNER_MIN_PROFIT_PERCENT")
	setFloat64(&cfg.Scanner.TestVolume, "JUPARB_SCANNER_TEST_VOLUME")
	setDuration(&cfg.Scanner.ScanInterval, "JUPARB_SCANNER_SCAN_INTERVAL")
	setStringSlice(&cfg.Scanner.PriorityDEXes, "JUPARB_SCANNER_PRIORITY_DEXES")
	setFloat64(&cfg.Scanner.MaxPriceImpact, "JUPARB_SCANNER_MAX_PRICE_IMPACT")
	setFloat64(&cfg.Scanner.MaxSlippage, "JUPARB_SCANNER_MAX_SLIPPAGE")
	setDuration(&cfg.Scanner.PairDelay, "JUPARB_SCANNER_PAIR_DELAY")
	setInt(&cfg.Scanner.FailureThreshold, "JUPARB_SCANNER_FAILURE_THRESHOLD")
	setBool(&cfg.Scanner.Demo, "JUPARB_SCANNER_DEMO")

	// ── Executor ──
	setBool(&cfg.Executor.Enabled, "JUPARB_EXECUTOR_ENABLED")
	setBool(&cfg.Executor.AutoExecute, "JUPARB_EXECUTOR_AUTO_EXECUTE")
	setFloat64(&cfg.Executor.MinProfitUSD, "JUPARB_EXECUTOR_MIN_PROFIT_USD")
	setDuration(&cfg.Executor.MaxAge, "JUPARB_EXECUTOR_MAX_AGE")
	setStr(&cfg.Executor.VaultProgramID, "JUPARB_EXECUTOR_VAULT_PROGRAM_ID")
	setStr(&cfg.Executor.RouterProgramID, "JUPARB_EXECUTOR_ROUTER_PROGRAM_ID")
	setStr(&cfg.Executor.VaultTokenAccount, "JUPARB_EXECUTOR_VAULT_TOKEN_ACCOUNT")
	setStr(&cfg.Executor.ExecutorTokenAccount, "JUPARB_EXECUTOR_EXECUTOR_TOKEN_ACCOUNT")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "JUPARB_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "JUPARB_SOLANA_COMMITMENT")
	setDuration(&cfg.Solana.ConfirmTimeout, "JUPARB_SOLANA_CONFIRM_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "JUPARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeypairPath, "JUPARB_WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.EncryptedKeyPath, "JUPARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "JUPARB_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "JUPARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "JUPARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "JUPARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JUPARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JUPARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JUPARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JUPARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JUPARB_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "JUPARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "JUPARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "JUPARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JUPARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JUPARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JUPARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "JUPARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "JUPARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "JUPARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "JUPARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "JUPARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "JUPARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "JUPARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "JUPARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "JUPARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.SnapshotScans, "JUPARB_ARCHIVE_SNAPSHOT_SCANS")
	setStr(&cfg.Archive.Cron, "JUPARB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "JUPARB_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "JUPARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "JUPARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "JUPARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "JUPARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "JUPARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JUPARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JUPARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "JUPARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "JUPARB_MODE")
	setStr(&cfg.LogLevel, "JUPARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitList(v)
	}
}

// setPairs parses "mintA:mintB,mintC:mintD".
func setPairs(dst *[]PairConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var pairs []PairConfig
	for _, item := range splitList(v) {
		a, b, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		pairs = append(pairs, PairConfig{TokenA: strings.TrimSpace(a), TokenB: strings.TrimSpace(b)})
	}
	if len(pairs) > 0 {
		*dst = pairs
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}
