// Package token resolves SPL mints to token metadata.
package token

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Mints of the built-in tokens. MintUSDC is also the USD reference used to
// size probe amounts.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	MintUSDT = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	MintMSOL = "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"
	MintJTO  = "J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn"
	MintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

// DefaultDecimals is assumed for mints missing from the registry.
const DefaultDecimals = 9

var builtin = []domain.Token{
	{
		Mint:     MintSOL,
		Symbol:   "SOL",
		Name:     "Wrapped SOL",
		Decimals: 9,
		LogoURI:  "https://raw.githubusercontent.com/solana-labs/token-list/main/assets/mainnet/So11111111111111111111111111111111111111112/logo.png",
	},
	{
		Mint:     MintUSDC,
		Symbol:   "USDC",
		Name:     "USD Coin",
		Decimals: 6,
		LogoURI:  "https://raw.githubusercontent.com/solana-labs/token-list/main/assets/mainnet/EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v/logo.png",
	},
	{
		Mint:     MintUSDT,
		Symbol:   "USDT",
		Name:     "USDT",
		Decimals: 6,
		LogoURI:  "https://raw.githubusercontent.com/solana-labs/token-list/main/assets/mainnet/Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB/logo.svg",
	},
	{
		Mint:     MintMSOL,
		Symbol:   "mSOL",
		Name:     "Marinade staked SOL",
		Decimals: 9,
		LogoURI:  "https://raw.githubusercontent.com/solana-labs/token-list/main/assets/mainnet/mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So/logo.png",
	},
	{
		Mint:     MintJTO,
		Symbol:   "JTO",
		Name:     "Jito",
		Decimals: 9,
		LogoURI:  "https://metadata.jito.network/token/jto/image",
	},
	{
		Mint:     MintBONK,
		Symbol:   "BONK",
		Name:     "Bonk",
		Decimals: 5,
		LogoURI:  "https://arweave.net/hQiPZOsRZXGXBJd_82PhVdlM_hACsT_q6wqwf5cSY7I",
	},
}

// Registry maps mints to token metadata. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byMint   map[string]domain.Token
	bySymbol map[string]domain.Token
}

// NewRegistry returns a registry seeded with the built-in tokens plus extra.
func NewRegistry(extra ...domain.Token) *Registry {
	r := &Registry{
		byMint:   make(map[string]domain.Token),
		bySymbol: make(map[string]domain.Token),
	}
	for _, t := range builtin {
		r.add(t)
	}
	for _, t := range extra {
		r.add(t)
	}
	return r
}

func (r *Registry) add(t domain.Token) {
	r.byMint[t.Mint] = t
	r.bySymbol[strings.ToUpper(t.Symbol)] = t
}

// Register adds or replaces a token.
func (r *Registry) Register(t domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(t)
}

// Lookup returns the registered token for mint.
func (r *Registry) Lookup(mint string) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byMint[mint]
	return t, ok
}

// BySymbol finds a registered token by symbol, case-insensitively.
func (r *Registry) BySymbol(symbol string) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// Resolve returns the registered token for mint, or an "unknown token"
// placeholder whose symbol is derived from the mint prefix.
func (r *Registry) Resolve(mint string) (domain.Token, error) {
	mint = strings.TrimSpace(mint)
	if mint == "" {
		return domain.Token{}, fmt.Errorf("token: resolve: empty mint: %w", domain.ErrConfiguration)
	}
	if t, ok := r.Lookup(mint); ok {
		return t, nil
	}
	return Placeholder(mint), nil
}

// Placeholder synthesises metadata for an unregistered mint.
func Placeholder(mint string) domain.Token {
	return domain.Token{
		Mint:     mint,
		Symbol:   "TOKEN_" + prefix(mint, 4),
		Name:     "Unknown Token " + prefix(mint, 8) + "...",
		Decimals: DefaultDecimals,
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ParsePair accepts "SOL/USDC" style symbols or raw mints on either side.
func (r *Registry) ParsePair(s string) (domain.PairConfig, error) {
	a, b, ok := strings.Cut(s, "/")
	if !ok {
		return domain.PairConfig{}, fmt.Errorf("token: parse pair %q: want A/B: %w", s, domain.ErrConfiguration)
	}
	return domain.PairConfig{TokenA: r.mintFor(a), TokenB: r.mintFor(b)}, nil
}

func (r *Registry) mintFor(s string) string {
	if t, ok := r.BySymbol(s); ok {
		return t.Mint
	}
	return strings.TrimSpace(s)
}
