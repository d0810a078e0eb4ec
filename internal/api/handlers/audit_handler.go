package handlers

import (
	"net/http"
	"strconv"

	"bizdash/internal/api/middleware"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/audit"
)

const maxAuditEntries = 200

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLog *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLog}
}

// List returns the tenant's most recent secret rotations, settings changes
// and rejected webhook signatures.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors.WriteErr(w, errors.NewValidationError("limit", "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditEntries)
	}

	entries, err := h.audit.Recent(r.Context(), tenant.ID, limit)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
