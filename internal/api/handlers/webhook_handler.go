package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"bizdash/internal/api/middleware"
	"bizdash/internal/engine/webhooks"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/metrics"
	"bizdash/internal/platform/models"
)

// WebhookHandler serves the public ingestion endpoints. Callers authenticate
// with the body signature, not a session.
type WebhookHandler struct {
	ingestor     *webhooks.Ingestor
	maxBodyBytes int64
}

func NewWebhookHandler(ingestor *webhooks.Ingestor, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{ingestor: ingestor, maxBodyBytes: maxBodyBytes}
}

func (h *WebhookHandler) Orders(w http.ResponseWriter, r *http.Request) {
	req, ok := h.read(w, r, models.KindOrder)
	if !ok {
		return
	}
	res, err := h.ingestor.IngestOrder(r.Context(), req)
	if err != nil {
		h.fail(w, models.KindOrder, err)
		return
	}
	metrics.WebhooksReceived.WithLabelValues(models.KindOrder, "accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   res,
	})
}

func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	req, ok := h.read(w, r, models.KindPayment)
	if !ok {
		return
	}
	res, err := h.ingestor.IngestPayment(r.Context(), req)
	if err != nil {
		h.fail(w, models.KindPayment, err)
		return
	}
	metrics.WebhooksReceived.WithLabelValues(models.KindPayment, "accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"received": true,
		"payment":  res,
	})
}

func (h *WebhookHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	req, ok := h.read(w, r, models.KindNotification)
	if !ok {
		return
	}
	n, err := h.ingestor.IngestNotification(r.Context(), req)
	if err != nil {
		h.fail(w, models.KindNotification, err)
		return
	}
	metrics.WebhooksReceived.WithLabelValues(models.KindNotification, "accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"notificationId": n.ID,
	})
}

func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// read keeps the raw bytes: the signature covers them exactly.
func (h *WebhookHandler) read(w http.ResponseWriter, r *http.Request, kind string) (webhooks.Request, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(kind, "invalid").Inc()
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Request body too large", nil)
			return webhooks.Request{}, false
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return webhooks.Request{}, false
	}
	return webhooks.Request{
		Body:      body,
		Signature: r.Header.Get(webhooks.SignatureHeader),
		RemoteIP:  middleware.ClientIP(r),
	}, true
}

func (h *WebhookHandler) fail(w http.ResponseWriter, kind string, err error) {
	metrics.WebhooksReceived.WithLabelValues(kind, outcome(err)).Inc()
	errors.WriteErr(w, err)
}

func outcome(err error) string {
	var (
		verr    *errors.ValidationError
		authErr *errors.AuthenticationError
		nfErr   *errors.NotFoundError
		forbErr *errors.ForbiddenError
		confErr *errors.ConflictError
	)
	switch {
	case stderrors.As(err, &verr):
		return "invalid"
	case stderrors.As(err, &authErr):
		return "unauthorized"
	case stderrors.As(err, &nfErr):
		return "not_found"
	case stderrors.As(err, &forbErr):
		return "forbidden"
	case stderrors.As(err, &confErr):
		return "conflict"
	default:
		return "error"
	}
}
