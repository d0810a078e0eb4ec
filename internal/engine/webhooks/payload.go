package webhooks

import (
	"strings"

	"github.com/goccy/go-json"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/models"
)

type OrderPayload struct {
	TenantID      string             `json:"tenantId" validate:"required"`
	OrderNumber   string             `json:"orderNumber" validate:"required,max=100"`
	CustomerName  string             `json:"customerName" validate:"required,max=200"`
	CustomerEmail string             `json:"customerEmail,omitempty" validate:"omitempty,email"`
	Amount        *float64           `json:"amount" validate:"required,gte=0"`
	Status        string             `json:"status,omitempty" validate:"omitempty,oneof=pending processing paid shipped delivered completed cancelled refunded"`
	Items         []models.OrderItem `json:"items" validate:"omitempty,dive"`
	Metadata      models.Metadata    `json:"metadata,omitempty"`
}

// NotificationPayload is accepted as-is by the notification service.
type NotificationPayload = notifications.CreateInput

type PaymentPayload struct {
	TenantID    string          `json:"tenantId" validate:"required"`
	OrderID     string          `json:"orderId" validate:"required"`
	OrderNumber string          `json:"orderNumber" validate:"required"`
	Amount      *float64        `json:"amount" validate:"required,gte=0"`
	Status      string          `json:"status" validate:"required,oneof=pending succeeded completed failed refunded cancelled"`
	PaymentID   string          `json:"paymentId" validate:"required"`
	Metadata    models.Metadata `json:"metadata,omitempty"`
}

// PeekTenantID reads only tenantId from a raw body, before the signature is
// checked and before the full schema is applied.
func PeekTenantID(body []byte) (string, error) {
	var head struct {
		TenantID interface{} `json:"tenantId"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", errors.NewValidationError("body", "body must be valid JSON")
	}
	id, ok := head.TenantID.(string)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", &errors.ValidationError{Fields: []errors.FieldViolation{{
			Field: "tenantId", Tag: "required", Message: "tenantId is required",
		}}}
	}
	return id, nil
}
