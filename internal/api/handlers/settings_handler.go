package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"bizdash/internal/api/middleware"
	"bizdash/internal/engine/webhooks"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/validator"
	"bizdash/internal/platform/audit"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

type WebhookSettingsHandler struct {
	settings  *repositories.WebhookSettingsRepository
	audit     *audit.Logger
	publicURL string
}

func NewWebhookSettingsHandler(settings *repositories.WebhookSettingsRepository, auditLog *audit.Logger, publicURL string) *WebhookSettingsHandler {
	return &WebhookSettingsHandler{
		settings:  settings,
		audit:     auditLog,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

type EnabledKinds struct {
	Orders        bool `json:"orders"`
	Payments      bool `json:"payments"`
	Notifications bool `json:"notifications"`
}

type SettingsResponse struct {
	Enabled         EnabledKinds      `json:"enabled"`
	HasSecret       bool              `json:"hasSecret"`
	SecretPreview   string            `json:"secretPreview,omitempty"`
	SecretRotatedAt *int64            `json:"secretRotatedAt,omitempty"`
	CallbackURLs    []string          `json:"callbackUrls"`
	RetryAttempts   int               `json:"retryAttempts"`
	TimeoutMS       int               `json:"timeoutMs"`
	Endpoints       map[string]string `json:"endpoints"`
}

type UpdateSettingsRequest struct {
	Enabled       EnabledKinds `json:"enabled"`
	CallbackURLs  []string     `json:"callbackUrls" validate:"max=10,dive,url"`
	RetryAttempts int          `json:"retryAttempts" validate:"gte=1,lte=10"`
	TimeoutMS     int          `json:"timeoutMs" validate:"gte=5000,lte=120000"`
}

func (h *WebhookSettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	s, err := h.settings.Get(r.Context(), tenant.ID)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(s))
}

func (h *WebhookSettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	claims := middleware.ClaimsFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}
	var req UpdateSettingsRequest
	if err := validator.DecodeJSON(body, &req); err != nil {
		errors.WriteErr(w, err)
		return
	}

	s := &models.WebhookSettings{
		TenantID:             tenant.ID,
		OrdersEnabled:        req.Enabled.Orders,
		PaymentsEnabled:      req.Enabled.Payments,
		NotificationsEnabled: req.Enabled.Notifications,
		CallbackURLs:         req.CallbackURLs,
		RetryAttempts:        req.RetryAttempts,
		TimeoutMS:            req.TimeoutMS,
	}
	if err := h.settings.Upsert(r.Context(), s); err != nil {
		errors.WriteErr(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.Entry{
		TenantID:  tenant.ID,
		ActorID:   claims.UserID,
		Action:    audit.ActionSettingsUpdated,
		Resource:  "webhook_settings",
		IPAddress: middleware.ClientIP(r),
		Details: models.Metadata{
			"callbackUrls":  len(req.CallbackURLs),
			"retryAttempts": req.RetryAttempts,
			"timeoutMs":     req.TimeoutMS,
		},
	})

	updated, err := h.settings.Get(r.Context(), tenant.ID)
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(updated))
}

// GenerateSecret replaces the tenant's secret. The full value is returned
// only in this response.
func (h *WebhookSettingsHandler) GenerateSecret(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	claims := middleware.ClaimsFrom(r.Context())

	secret, err := webhooks.GenerateSecret()
	if err != nil {
		errors.WriteErr(w, err)
		return
	}
	if err := h.settings.SetSecret(r.Context(), tenant.ID, secret); err != nil {
		errors.WriteErr(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.Entry{
		TenantID:  tenant.ID,
		ActorID:   claims.UserID,
		Action:    audit.ActionSecretGenerated,
		Resource:  "webhook_settings",
		IPAddress: middleware.ClientIP(r),
	})
	log.Info().Str("tenant_id", tenant.ID).Str("user_id", claims.UserID).Msg("Webhook secret generated")

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":  secret,
		"preview": webhooks.MaskSecret(secret),
	})
}

func (h *WebhookSettingsHandler) response(s *models.WebhookSettings) SettingsResponse {
	urls := []string(s.CallbackURLs)
	if urls == nil {
		urls = []string{}
	}
	return SettingsResponse{
		Enabled: EnabledKinds{
			Orders:        s.OrdersEnabled,
			Payments:      s.PaymentsEnabled,
			Notifications: s.NotificationsEnabled,
		},
		HasSecret:       s.HasSecret(),
		SecretPreview:   webhooks.MaskSecret(s.Secret),
		SecretRotatedAt: s.SecretRotatedAt,
		CallbackURLs:    urls,
		RetryAttempts:   s.RetryAttempts,
		TimeoutMS:       s.TimeoutMS,
		Endpoints: map[string]string{
			"orders":        h.publicURL + "/api/webhooks/orders",
			"payments":      h.publicURL + "/api/webhooks/payments",
			"notifications": h.publicURL + "/api/webhooks/notifications",
		},
	}
}
