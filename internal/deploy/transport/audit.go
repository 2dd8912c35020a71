package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deploygate/internal/storage"
)

// AuditHandler serves the read-only audit trail.
type AuditHandler struct {
	store storage.AttemptStore
}

// NewAuditHandler creates a new audit HTTP handler.
func NewAuditHandler(store storage.AttemptStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// RegisterRoutes registers the audit routes on a chi router.
func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{requestId}", h.handleGet)
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.store.ListAttempts(r.Context(), storage.AttemptFilter{
		Mode:        r.URL.Query().Get("mode"),
		Outcome:     r.URL.Query().Get("outcome"),
		Fingerprint: r.URL.Query().Get("fingerprint"),
	}, storage.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to list deployment attempts",
		})
		return
	}

	data := make([]map[string]any, len(result.Data))
	for i, a := range result.Data {
		data[i] = attemptPayload(&a)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": map[string]any{
			"limit":      limit,
			"hasMore":    result.HasMore,
			"nextCursor": result.NextCursor,
		},
	})
}

func (h *AuditHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	attempt, err := h.store.GetAttempt(r.Context(), requestID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   "No recorded attempt for this request",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to look up attempt",
		})
		return
	}

	writeJSON(w, http.StatusOK, attemptPayload(attempt))
}

func attemptPayload(a *storage.Attempt) map[string]any {
	return map[string]any{
		"id":               a.ID,
		"requestId":        a.RequestID,
		"fingerprint":      a.Fingerprint,
		"mode":             a.Mode,
		"contractName":     a.ContractName,
		"outcome":          a.Outcome,
		"riskScore":        a.RiskScore,
		"criticalVulns":    a.CriticalVulns,
		"highVulns":        a.HighVulns,
		"slitherUsed":      a.SlitherUsed,
		"blockReasons":     a.BlockReasons,
		"failedStep":       a.FailedStep,
		"error":            a.Error,
		"contractAddress":  a.ContractAddress,
		"txHash":           a.TxHash,
		"bypassedSecurity": a.BypassedSecurity,
		"createdAt":        a.CreatedAt,
	}
}
