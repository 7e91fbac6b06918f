package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts a submitted execution.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, pair, signature, status, min_profit_usd, profit_usd, error, started_at, completed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		exec.ID, exec.OpportunityID, exec.Pair, exec.Signature, string(exec.Status),
		exec.MinProfitUSD, exec.ProfitUSD, exec.Error, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// Complete sets the final status of an execution.
func (s *ExecutionStore) Complete(ctx context.Context, id string, status domain.ExecutionStatus, signature, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, signature = COALESCE(NULLIF($3, ''), signature), error = NULLIF($4, ''), completed_at = NOW()
		WHERE id = $1`,
		id, string(status), signature, errMsg,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest executions first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	query, args := newSelect(`
		SELECT id, opportunity_id, pair, COALESCE(signature, ''), status, min_profit_usd, profit_usd,
			COALESCE(error, ''), started_at, completed_at
		FROM executions`, "started_at DESC").
		page(domain.ListOpts{Limit: limit}).
		build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Execution, error) {
		var e domain.Execution
		var status string
		var completedAt *time.Time
		err := row.Scan(&e.ID, &e.OpportunityID, &e.Pair, &e.Signature, &status,
			&e.MinProfitUSD, &e.ProfitUSD, &e.Error, &e.StartedAt, &completedAt)
		e.Status = domain.ExecutionStatus(status)
		e.CompletedAt = completedAt
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return out, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
