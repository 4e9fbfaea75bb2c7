package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// AuditHandler exposes the command audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler over audit.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListRecent returns the newest audit entries.
// GET /api/audit?limit=50
func (h *AuditHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
