package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"
)

// OpportunityHistory is the slice of domain.OpportunityStore the archiver
// needs.
type OpportunityHistory interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// objectChecker reports whether an object key is taken.
type objectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver implements domain.Archiver. Scan snapshots are written as one JSON
// object per scan; opportunity history is moved out of the primary store as
// JSONL and deleted only after the upload succeeds.
type Archiver struct {
	writer   domain.BlobWriter
	objects  objectChecker
	history  OpportunityHistory
	audit    domain.AuditStore
	logger   *slog.Logger
	partSize int64
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithAudit records each archive run in the audit log.
func WithAudit(audit domain.AuditStore) ArchiverOption {
	return func(a *Archiver) { a.audit = audit }
}

// WithObjectChecker avoids overwriting an existing archive for the same day.
func WithObjectChecker(objects objectChecker) ArchiverOption {
	return func(a *Archiver) { a.objects = objects }
}

// WithMultipartThreshold switches to multipart uploads above size bytes.
func WithMultipartThreshold(size int64) ArchiverOption {
	return func(a *Archiver) { a.partSize = size }
}

// NewArchiver creates an Archiver. history may be nil when only scan
// snapshots are wanted.
func NewArchiver(writer domain.BlobWriter, history OpportunityHistory, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		writer:   writer,
		history:  history,
		logger:   logger.With(slog.String("component", "archiver")),
		partSize: minPartSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveScan uploads result as scans/YYYY/MM/DD/HHMMSS.mmm-<scan>.json.
func (a *Archiver) ArchiveScan(ctx context.Context, result domain.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("s3blob: marshal scan %d: %w", result.ScanNumber, err)
	}
	path := scanPath(result)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return err
	}
	a.logger.DebugContext(ctx, "scan archived", slog.String("path", path))
	return nil
}

// ArchiveOpportunities moves opportunities observed before the cutoff to
// archive/opportunities/YYYY-MM-DD.jsonl and returns how many were moved.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	if a.history == nil {
		return 0, fmt.Errorf("s3blob: archive opportunities: no history store: %w", domain.ErrConfiguration)
	}

	opps, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path, err := a.freePath(ctx, archivePath("opportunities", before))
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) > a.partSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	deleted, err := a.history.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities delete: %w", err)
	}

	count := int64(len(opps))
	a.logger.InfoContext(ctx, "opportunities archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.opportunities", map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
		}
	}
	return count, nil
}

// freePath appends a numeric suffix until the key is unused.
func (a *Archiver) freePath(ctx context.Context, path string) (string, error) {
	if a.objects == nil {
		return path, nil
	}
	base := path[:len(path)-len(".jsonl")]
	candidate := path
	for i := 1; ; i++ {
		exists, err := a.objects.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s.%d.jsonl", base, i)
	}
}

func scanPath(result domain.ScanResult) string {
	ts := result.Timestamp.UTC()
	return fmt.Sprintf("scans/%s/%s-%d.json", ts.Format("2006/01/02"), ts.Format("150405.000"), result.ScanNumber)
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
