package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunityStore persists detected opportunity history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp ArbitrageOpportunity) error
	MarkExecuted(ctx context.Context, id string, signature string) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionStore persists execution attempts.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	Complete(ctx context.Context, id string, status ExecutionStatus, signature, errMsg string) error
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
