// Package solanarpc is a JSON-RPC client for the Solana node calls the
// executor needs: blockhashes, submission and confirmation.
package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Default RPC client configuration.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultPollInterval = time.Second
)

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// MaxTransactionSize is the packet limit for a serialized transaction.
const MaxTransactionSize = 1232

var (
	// ErrConfirmTimeout is returned when a signature is not confirmed in time.
	ErrConfirmTimeout = errors.New("solanarpc: confirmation timed out")

	// ErrTransactionTooLarge is returned when a serialized transaction
	// exceeds MaxTransactionSize.
	ErrTransactionTooLarge = errors.New("solanarpc: transaction too large")
)

// RPCClient is a JSON-RPC 2.0 client for a Solana node.
type RPCClient struct {
	endpoint     string
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	maxDelay     time.Duration
	backoffMult  float64
	pollInterval time.Duration
	commitment   string
	requestID    atomic.Uint64
}

// ClientOption configures an RPCClient.
type ClientOption func(*RPCClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RPCClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets the maximum retry attempts for transport failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *RPCClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RPCClient) {
		c.retryDelay = d
	}
}

// WithPollInterval sets how often ConfirmTransaction polls signature status.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *RPCClient) {
		c.pollInterval = d
	}
}

// WithCommitment sets the commitment used for reads and confirmation.
func WithCommitment(commitment string) ClientOption {
	return func(c *RPCClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RPCClient) {
		c.client = client
	}
}

// NewRPCClient creates a client for the node at endpoint.
func NewRPCClient(endpoint string, opts ...ClientOption) *RPCClient {
	c := &RPCClient{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		maxDelay:     DefaultMaxDelay,
		backoffMult:  DefaultBackoffMult,
		pollInterval: DefaultPollInterval,
		commitment:   CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Errors reported by the node are returned without retrying.
func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("solanarpc: %s: marshal request: %w", method, err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("solanarpc: %s: create request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = domain.ErrRateLimited
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return fmt.Errorf("solanarpc: %s: %w", method, rpcResp.Error)
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("solanarpc: %s: unmarshal result: %w", method, err)
			}
		}
		return nil
	}

	return fmt.Errorf("solanarpc: %s: max retries exceeded: %w: %w", method, domain.ErrUpstreamUnavailable, lastErr)
}

// Blockhash is a recent blockhash and the last block height it is valid for.
type Blockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash fetches a recent blockhash at the client commitment.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getLatestBlockhash", params, &out); err != nil {
		return Blockhash{}, err
	}
	if out.Value.Blockhash == "" {
		return Blockhash{}, fmt.Errorf("solanarpc: getLatestBlockhash: empty blockhash: %w", domain.ErrMalformedResponse)
	}
	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return Blockhash{}, fmt.Errorf("solanarpc: getLatestBlockhash: %w: %w", domain.ErrMalformedResponse, err)
	}
	return Blockhash{Blockhash: hash, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

// EncodeTransaction serializes a signed transaction to the base64 wire form
// and enforces the packet size limit.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("solanarpc: encode transaction: %w", err)
	}
	if len(raw) > MaxTransactionSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTransactionTooLarge, len(raw))
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SendTransaction submits a signed transaction with preflight simulation
// enabled and returns its signature.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return "", err
	}
	params := []any{
		encoded,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": c.commitment,
		},
	}
	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// SignatureStatus is the node's view of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// reached reports whether the status satisfies commitment.
func (s SignatureStatus) reached(commitment string) bool {
	rank := map[string]int{CommitmentProcessed: 1, CommitmentConfirmed: 2, CommitmentFinalized: 3}
	return rank[s.ConfirmationStatus] >= rank[commitment]
}

// GetSignatureStatuses returns one status per signature; unknown
// signatures yield nil entries.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	var out struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{signatures, map[string]any{"searchTransactionHistory": false}}
	if err := c.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// ConfirmTransaction polls until signature reaches the client commitment,
// the transaction fails on-chain, or ctx ends.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, signature string) (SignatureStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, signature)
		if err != nil && ctx.Err() == nil {
			return SignatureStatus{}, err
		}
		if len(statuses) > 0 && statuses[0] != nil {
			st := *statuses[0]
			if st.Failed() {
				return st, fmt.Errorf("solanarpc: transaction %s failed: %s", signature, string(st.Err))
			}
			if st.reached(c.commitment) {
				return st, nil
			}
		}

		select {
		case <-ctx.Done():
			return SignatureStatus{}, fmt.Errorf("%w: %s", ErrConfirmTimeout, signature)
		case <-ticker.C:
		}
	}
}
