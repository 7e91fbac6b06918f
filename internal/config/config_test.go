package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/token"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.Scanner.Pairs, 6)
	assert.Equal(t, 30*time.Second, cfg.Scanner.ScanInterval.Duration)
	assert.Equal(t, 3, cfg.Scanner.FailureThreshold)
	assert.Equal(t, 50, cfg.Jupiter.SlippageBps)
	assert.Equal(t, "https://quote-api.jup.ag/v6", cfg.Jupiter.Endpoints[0])
}

func TestDefaultPairsUseRegisteredMints(t *testing.T) {
	reg := token.NewRegistry()
	for _, p := range Defaults().Scanner.Pairs {
		for _, mint := range []string{p.TokenA, p.TokenB} {
			tok, err := reg.Resolve(mint)
			require.NoError(t, err)
			assert.NotContains(t, tok.Symbol, "TOKEN_", "default pair mint %s is not in the registry", mint)
		}
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Scanner.TestVolume = 0
	cfg.Scanner.Pairs = []PairConfig{{TokenA: token.MintSOL, TokenB: token.MintSOL}}
	cfg.Jupiter.Endpoints = []string{"ftp://nope"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "test_volume must be > 0")
	assert.Contains(t, msg, "token_a and token_b must differ")
	assert.Contains(t, msg, "must be an http(s) URL")
}

func TestValidateWalletRequiredForExecution(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "execute"
	cfg.Executor.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet:")

	cfg.Wallet.KeypairPath = "/tmp/id.json"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "scan"

[scanner]
min_profit_usd = 2.0
scan_interval = "45s"
pairs = [
  { token_a = "So11111111111111111111111111111111111111112", token_b = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" },
]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("JUPARB_SCANNER_TEST_VOLUME", "200")
	t.Setenv("JUPARB_JUPITER_ENDPOINTS", "https://a.example/v6, https://b.example/v6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, 2.0, cfg.Scanner.MinProfitUSD)
	assert.Equal(t, 45*time.Second, cfg.Scanner.ScanInterval.Duration)
	assert.Equal(t, 200.0, cfg.Scanner.TestVolume)
	assert.Len(t, cfg.Scanner.Pairs, 1)
	assert.Equal(t, []string{"https://a.example/v6", "https://b.example/v6"}, cfg.Jupiter.Endpoints)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.5, cfg.Scanner.MinProfitPercent)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Scanner.MinProfitUSD, cfg.Scanner.MinProfitUSD)
}

func TestEnvPairs(t *testing.T) {
	t.Setenv("JUPARB_SCANNER_PAIRS", token.MintSOL+":"+token.MintUSDC+","+token.MintJTO+":"+token.MintUSDC+",garbage")
	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Len(t, cfg.Scanner.Pairs, 2)
	assert.Equal(t, token.MintJTO, cfg.Scanner.Pairs[1].TokenA)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "secret"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "secret", cfg.Wallet.PrivateKey)

	red.Scanner.Pairs[0].TokenA = "mutated"
	assert.Equal(t, token.MintSOL, cfg.Scanner.Pairs[0].TokenA)
}

func TestScannerDomainConfig(t *testing.T) {
	cfg := Defaults()
	sc := cfg.ScannerDomainConfig()
	assert.Equal(t, 30*time.Second, sc.ScanInterval)
	assert.Equal(t, 50, sc.SlippageBps())
	assert.Len(t, sc.Pairs, len(cfg.Scanner.Pairs))
}
