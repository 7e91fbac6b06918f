package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// ScannerControl is the part of the scan orchestrator the dashboard drives.
type ScannerControl interface {
	Start(ctx context.Context) bool
	Stop()
	Stats() domain.ScannerStats
	LastOpportunities() []domain.ArbitrageOpportunity
	UpdateConfig(ctx context.Context, patch domain.ScannerConfigPatch) (domain.ScannerConfig, error)
}

// ScannerHandler serves /api/scanner/*.
type ScannerHandler struct {
	scanner ScannerControl
	// runCtx outlives requests; the loop started by Start is bound to it.
	runCtx context.Context
	logger *slog.Logger
}

// NewScannerHandler creates a ScannerHandler. Loops started over HTTP run
// until runCtx is cancelled or Stop is called.
func NewScannerHandler(runCtx context.Context, scanner ScannerControl, logger *slog.Logger) *ScannerHandler {
	return &ScannerHandler{scanner: scanner, runCtx: runCtx, logger: logHandler(logger, "scanner")}
}

// Status returns the scanner stats.
// GET /api/scanner/status
func (h *ScannerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Stats())
}

// Opportunities returns the fresh opportunities from the latest cycles.
// GET /api/scanner/opportunities
func (h *ScannerHandler) Opportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.scanner.LastOpportunities()
	if opps == nil {
		opps = []domain.ArbitrageOpportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"count":         len(opps),
	})
}

// Start launches the scan loop when it is not already running.
// POST /api/scanner/start
func (h *ScannerHandler) Start(w http.ResponseWriter, r *http.Request) {
	started := h.scanner.Start(h.runCtx)
	h.logger.InfoContext(r.Context(), "scanner start requested", slog.Bool("started", started))
	writeJSON(w, http.StatusOK, map[string]any{
		"started": started,
		"status":  h.scanner.Stats(),
	})
}

// Stop stops the loop after the in-flight cycle.
// POST /api/scanner/stop
func (h *ScannerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.scanner.Stop()
	h.logger.InfoContext(r.Context(), "scanner stop requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": true,
		"status":  h.scanner.Stats(),
	})
}

// UpdateConfig merges a partial configuration.
// PUT /api/scanner/config
func (h *ScannerHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.ScannerConfigPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config patch: "+err.Error())
		return
	}

	cfg, err := h.scanner.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
