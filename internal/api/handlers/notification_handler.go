package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"bizdash/internal/api/middleware"
	"bizdash/internal/engine/notifications"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/validator"
)

// NotificationHandler serves the session API. The tenant always comes from
// the session, so ids from another tenant resolve to 404.
type NotificationHandler struct {
	svc *notifications.Service
}

func NewNotificationHandler(svc *notifications.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	q := r.URL.Query()

	query := notifications.ListQuery{
		TenantID: tenant.ID,
		UserID:   q.Get("userId"),
	}
	var err error
	if query.IncludeRead, err = boolParam(q.Get("includeRead"), "includeRead"); err != nil {
		errors.WriteErr(w, err)
		return
	}
	if query.IncludeDismissed, err = boolParam(q.Get("includeDismissed"), "includeDismissed"); err != nil {
		errors.WriteErr(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			errors.WriteErr(w, errors.NewValidationError("limit", "limit must be a positive integer"))
			return
		}
		query.Limit = limit
	}

	list, err := h.svc.List(r.Context(), query)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

func (h *NotificationHandler) Count(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	count, err := h.svc.Count(r.Context(), tenant.ID, r.URL.Query().Get("userId"))
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *NotificationHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}
	var in notifications.UpdateInput
	if err := validator.DecodeJSON(body, &in); err != nil {
		errors.WriteErr(w, err)
		return
	}

	n, err := h.svc.Update(r.Context(), tenant.ID, param(r, "id"), in)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req struct {
		UserID string `json:"userId"`
	}
	// the body is optional
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	count, err := h.svc.MarkAllAsRead(r.Context(), tenant.ID, req.UserID)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func boolParam(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.NewValidationError(name, name+" must be true or false")
	}
	return &v, nil
}
