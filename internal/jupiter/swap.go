package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// AccountMeta is an instruction account as returned by /swap-instructions.
type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Instruction is a serialized instruction; Data is base64.
type Instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      string        `json:"data"`
}

// SwapInstructions is the /swap-instructions response.
type SwapInstructions struct {
	TokenLedgerInstruction      *Instruction  `json:"tokenLedgerInstruction"`
	ComputeBudgetInstructions   []Instruction `json:"computeBudgetInstructions"`
	SetupInstructions           []Instruction `json:"setupInstructions"`
	SwapInstruction             Instruction   `json:"swapInstruction"`
	CleanupInstruction          *Instruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string      `json:"addressLookupTableAddresses"`
}

type swapInstructionsRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	FeeAccount                    *string         `json:"feeAccount"`
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
	PrioritizationFeeLamports     string          `json:"prioritizationFeeLamports"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
}

// GetSwapInstructions asks Jupiter for the instructions that execute quote on
// behalf of userPublicKey. quote must carry its raw payload.
func (c *Client) GetSwapInstructions(ctx context.Context, quote domain.Quote, userPublicKey string) (SwapInstructions, error) {
	if len(quote.Raw) == 0 {
		return SwapInstructions{}, fmt.Errorf("jupiter: swap-instructions: quote has no raw payload: %w", domain.ErrConfiguration)
	}
	payload, err := json.Marshal(swapInstructionsRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 userPublicKey,
		WrapAndUnwrapSol:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: "auto",
		PrioritizationFeeLamports:     "auto",
		AsLegacyTransaction:           true,
	})
	if err != nil {
		return SwapInstructions{}, fmt.Errorf("jupiter: swap-instructions: marshal: %w", err)
	}

	var out SwapInstructions
	err = c.tryEndpoints(ctx, "swap-instructions", func(ctx context.Context, base string) error {
		body, err := c.doRequest(ctx, http.MethodPost, base+"/swap-instructions", payload)
		if err != nil {
			return err
		}
		var si SwapInstructions
		if err := json.Unmarshal(body, &si); err != nil {
			return fmt.Errorf("decode swap instructions: %w: %w", domain.ErrMalformedResponse, err)
		}
		if si.SwapInstruction.ProgramID == "" {
			return fmt.Errorf("swap instructions: missing swapInstruction: %w", domain.ErrMalformedResponse)
		}
		out = si
		return nil
	})
	if err != nil {
		return SwapInstructions{}, err
	}

	c.logger.InfoContext(ctx, "swap instructions received",
		slog.Int("setup", len(out.SetupInstructions)),
		slog.Int("swap_accounts", len(out.SwapInstruction.Accounts)),
		slog.Int("lookup_tables", len(out.AddressLookupTableAddresses)),
	)
	return out, nil
}

// All returns the setup, swap and cleanup instructions in execution order.
// Jupiter's compute-budget instructions are excluded; callers attach their own.
func (s SwapInstructions) All() []Instruction {
	out := make([]Instruction, 0, len(s.SetupInstructions)+2)
	if s.TokenLedgerInstruction != nil {
		out = append(out, *s.TokenLedgerInstruction)
	}
	out = append(out, s.SetupInstructions...)
	out = append(out, s.SwapInstruction)
	if s.CleanupInstruction != nil {
		out = append(out, *s.CleanupInstruction)
	}
	return out
}
