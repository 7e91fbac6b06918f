// Package jupiter is the gateway to the Jupiter v6 swap API. Every call walks
// an ordered endpoint list (primary first, then mirrors) and succeeds on the
// first endpoint that returns a valid payload.
package jupiter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultBackoff     = 1 * time.Second
	DefaultSlippageBps = 50

	rateLimitKey = "jupiter:quote"
)

// DefaultEndpoints is the primary quote API followed by its mirrors.
var DefaultEndpoints = []string{
	"https://quote-api.jup.ag/v6",
	"https://jupiter-swap-api.quiknode.pro/v6",
	"https://quote-api.jup.ag/v6",
}

// Client calls the Jupiter quote and swap-instructions endpoints.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	timeout    time.Duration
	backoff    time.Duration
	limiter    domain.RateLimiter
	rateLimit  int
	logger     *slog.Logger
}

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds each endpoint attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithBackoff sets the fixed wait between failed attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimiter throttles calls to perSecond across every process sharing limiter.
func WithRateLimiter(limiter domain.RateLimiter, perSecond int) Option {
	return func(c *Client) {
		c.limiter = limiter
		c.rateLimit = perSecond
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a gateway over endpoints. An empty list selects DefaultEndpoints.
func NewClient(endpoints []string, opts ...Option) *Client {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	c := &Client{
		endpoints:  append([]string(nil), endpoints...),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "jupiter"))
	return c
}

// Endpoints returns a copy of the configured endpoint list.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// QuoteRequest holds the /quote query parameters.
type QuoteRequest struct {
	InputMint           string
	OutputMint          string
	Amount              uint64
	SlippageBps         int
	OnlyDirectRoutes    bool
	AsLegacyTransaction bool
}

func (r QuoteRequest) values() url.Values {
	v := url.Values{}
	v.Set("inputMint", r.InputMint)
	v.Set("outputMint", r.OutputMint)
	v.Set("amount", strconv.FormatUint(r.Amount, 10))
	v.Set("slippageBps", strconv.Itoa(r.SlippageBps))
	v.Set("onlyDirectRoutes", strconv.FormatBool(r.OnlyDirectRoutes))
	v.Set("asLegacyTransaction", strconv.FormatBool(r.AsLegacyTransaction))
	return v
}

// GetQuote returns a validated quote for swapping amountRaw of inputMint into
// outputMint. It fails with domain.ErrUpstreamUnavailable only after every
// endpoint has failed.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (domain.Quote, error) {
	return c.Quote(ctx, QuoteRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		Amount:      amountRaw,
		SlippageBps: slippageBps,
	})
}

// Quote is GetQuote with full control over the query parameters.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (domain.Quote, error) {
	if req.InputMint == "" || req.OutputMint == "" {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: empty mint: %w", domain.ErrConfiguration)
	}
	if req.Amount == 0 {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: zero amount: %w", domain.ErrConfiguration)
	}
	if req.SlippageBps <= 0 {
		req.SlippageBps = DefaultSlippageBps
	}
	path := "/quote?" + req.values().Encode()

	var quote domain.Quote
	err := c.tryEndpoints(ctx, "quote", func(ctx context.Context, base string) error {
		body, err := c.doRequest(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return err
		}
		q, err := decodeQuote(body, req.Amount)
		if err != nil {
			return err
		}
		q.Endpoint = base
		quote = q
		return nil
	})
	if err != nil {
		return domain.Quote{}, err
	}

	c.logger.DebugContext(ctx, "quote received",
		slog.String("endpoint", quote.Endpoint),
		slog.String("input_mint", quote.InputMint),
		slog.String("output_mint", quote.OutputMint),
		slog.Uint64("in_amount", quote.InAmount),
		slog.Uint64("out_amount", quote.OutAmount),
		slog.Float64("price_impact_pct", quote.PriceImpactPct),
	)
	return quote, nil
}

// tryEndpoints runs attempt against each endpoint in order until one
// succeeds. Each attempt gets its own timeout; failures wait the fixed
// backoff before the next endpoint. The returned error wraps
// domain.ErrUpstreamUnavailable and every per-endpoint failure.
func (c *Client) tryEndpoints(ctx context.Context, op string, attempt func(ctx context.Context, base string) error) error {
	var errs []error
	for i, base := range c.endpoints {
		if i > 0 && c.backoff > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("jupiter: %s: %w: %w", op, domain.ErrUpstreamUnavailable, errors.Join(append(errs, ctx.Err())...))
			case <-time.After(c.backoff):
			}
		}

		if err := c.throttle(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := attempt(attemptCtx, base)
		cancel()
		if err == nil {
			return nil
		}

		c.logger.WarnContext(ctx, "endpoint failed",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.Int("endpoints", len(c.endpoints)),
			slog.String("endpoint", base),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", base, err))

		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("jupiter: %s: %w: %w", op, domain.ErrUpstreamUnavailable, errors.Join(errs...))
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	return c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, time.Second)
}

// doRequest performs a single HTTP call and returns the body of a 200 response.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("status 429: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
