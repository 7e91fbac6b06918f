package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// HistoryHandler serves persisted opportunity and execution history. Either
// store may be nil when persistence is disabled.
type HistoryHandler struct {
	opps   domain.OpportunityStore
	execs  domain.ExecutionStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(opps domain.OpportunityStore, execs domain.ExecutionStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{opps: opps, execs: execs, logger: logHandler(logger, "history")}
}

// RecentOpportunities lists stored opportunities, newest first.
// GET /api/opportunities/recent?limit=N
func (h *HistoryHandler) RecentOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.opps == nil {
		writeError(w, http.StatusServiceUnavailable, "opportunity history is disabled")
		return
	}
	opps, err := h.opps.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, errorStatus(err), "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.ArbitrageOpportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}

// RecentExecutions lists execution attempts, newest first.
// GET /api/executions/recent?limit=N
func (h *HistoryHandler) RecentExecutions(w http.ResponseWriter, r *http.Request) {
	if h.execs == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history is disabled")
		return
	}
	execs, err := h.execs.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions failed", slog.String("error", err.Error()))
		writeError(w, errorStatus(err), "failed to list executions")
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}
