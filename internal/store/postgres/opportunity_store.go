package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. The
// full opportunity is kept as JSONB next to the indexed summary columns.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert stores opp. It returns domain.ErrAlreadyExists when the ID is
// already present.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	payload, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, pair, token_a_mint, token_b_mint, buy_venue, sell_venue,
			buy_price, sell_price, profit_usd, profit_percent, confidence, volume, synthetic, payload, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, opp.Pair(), opp.TokenA.Mint, opp.TokenB.Mint, opp.BuySide.Venue, opp.SellSide.Venue,
		opp.BuySide.Price, opp.SellSide.Price, opp.ProfitUSD, opp.ProfitPercent, opp.Confidence.String(),
		opp.Volume, opp.Synthetic, payload, opp.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// MarkExecuted records the confirming signature for an opportunity.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id, signature string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET executed_signature = $2, executed_at = NOW() WHERE id = $1`,
		id, signature,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query, args := newSelect(`SELECT payload FROM opportunities`, "observed_at DESC").
		page(domain.ListOpts{Limit: limit}).
		build()
	return s.query(ctx, "list recent opportunities", query, args...)
}

// ListBefore returns opportunities observed before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	query, args := newSelect(`SELECT payload FROM opportunities`, "observed_at ASC").
		whereArg("observed_at < ?", before).
		build()
	return s.query(ctx, "list opportunities before", query, args...)
}

// DeleteBefore removes opportunities observed before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *OpportunityStore) query(ctx context.Context, op, query string, args ...any) ([]domain.ArbitrageOpportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ArbitrageOpportunity, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return domain.ArbitrageOpportunity{}, err
		}
		return decodeOpportunity(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

func decodeOpportunity(payload []byte) (domain.ArbitrageOpportunity, error) {
	var opp domain.ArbitrageOpportunity
	if err := json.Unmarshal(payload, &opp); err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("decode opportunity payload: %w", err)
	}
	return opp, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
