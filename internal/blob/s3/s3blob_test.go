package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

type putCall struct {
	path        string
	body        []byte
	contentType string
	multipart   bool
}

type memWriter struct {
	puts []putCall
	err  error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, body: b, contentType: contentType})
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, body: b, multipart: true})
	return nil
}

type memHistory struct {
	opps    []domain.ArbitrageOpportunity
	deleted int
}

func (h *memHistory) ListBefore(_ context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	var out []domain.ArbitrageOpportunity
	for _, o := range h.opps {
		if o.ObservedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (h *memHistory) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := h.opps[:0]
	var n int64
	for _, o := range h.opps {
		if o.ObservedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	h.opps = kept
	h.deleted += int(n)
	return n, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type takenPaths map[string]bool

func (t takenPaths) Exists(_ context.Context, path string) (bool, error) {
	return t[path], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var cutoff = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

func history() *memHistory {
	return &memHistory{opps: []domain.ArbitrageOpportunity{
		{ID: "old-1", ProfitUSD: 10, ObservedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "old-2", ProfitUSD: 11, ObservedAt: cutoff.Add(-time.Hour)},
		{ID: "new", ProfitUSD: 12, ObservedAt: cutoff.Add(time.Hour)},
	}}
}

func TestArchiveScan(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, nil, discardLogger())

	result := domain.ScanResult{
		ScanNumber: 42,
		Timestamp:  time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.UTC),
		Synthetic:  true,
	}
	require.NoError(t, a.ArchiveScan(context.Background(), result))

	require.Len(t, w.puts, 1)
	assert.Equal(t, "scans/2024/03/09/140506.789-42.json", w.puts[0].path)
	assert.Equal(t, contentTypeJSON, w.puts[0].contentType)

	var decoded domain.ScanResult
	require.NoError(t, json.Unmarshal(w.puts[0].body, &decoded))
	assert.Equal(t, int64(42), decoded.ScanNumber)
	assert.True(t, decoded.Synthetic)
}

func TestArchiveOpportunities(t *testing.T) {
	w := &memWriter{}
	h := history()
	audit := &memAudit{}
	a := NewArchiver(w, h, discardLogger(), WithAudit(audit))

	n, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, w.puts, 1)
	assert.Equal(t, "archive/opportunities/2024-03-09.jsonl", w.puts[0].path)
	assert.Equal(t, contentTypeJSONL, w.puts[0].contentType)
	assert.False(t, w.puts[0].multipart)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.puts[0].body))
	for sc.Scan() {
		var o domain.ArbitrageOpportunity
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"old-1", "old-2"}, ids)

	require.Len(t, h.opps, 1)
	assert.Equal(t, "new", h.opps[0].ID)
	assert.Equal(t, []string{"archive.opportunities"}, audit.events)
}

func TestArchiveOpportunitiesNothingToDo(t *testing.T) {
	w := &memWriter{}
	h := &memHistory{}
	a := NewArchiver(w, h, discardLogger())

	n, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)
}

func TestArchiveOpportunitiesUploadFailureKeepsRows(t *testing.T) {
	w := &memWriter{err: errors.New("boom")}
	h := history()
	a := NewArchiver(w, h, discardLogger())

	_, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, h.opps, 3)
	assert.Zero(t, h.deleted)
}

func TestArchiveOpportunitiesAvoidsOverwrite(t *testing.T) {
	w := &memWriter{}
	taken := takenPaths{
		"archive/opportunities/2024-03-09.jsonl":   true,
		"archive/opportunities/2024-03-09.1.jsonl": true,
	}
	a := NewArchiver(w, history(), discardLogger(), WithObjectChecker(taken))

	_, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, w.puts, 1)
	assert.Equal(t, "archive/opportunities/2024-03-09.2.jsonl", w.puts[0].path)
}

func TestArchiveOpportunitiesMultipart(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, history(), discardLogger(), WithMultipartThreshold(10))

	_, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, w.puts, 1)
	assert.True(t, w.puts[0].multipart)
}

func TestArchiveOpportunitiesWithoutHistory(t *testing.T) {
	a := NewArchiver(&memWriter{}, nil, discardLogger())
	_, err := a.ArchiveOpportunities(context.Background(), cutoff)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(errors.New("access denied")))
}
