package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// WebhookSettings is the per-tenant webhook configuration. Secret is empty
// until the tenant generates one; while empty, inbound calls are not signed.
type WebhookSettings struct {
	TenantID             string      `json:"tenantId" db:"tenant_id"`
	Secret               string      `json:"-" db:"secret"`
	OrdersEnabled        bool        `json:"ordersEnabled" db:"orders_enabled"`
	PaymentsEnabled      bool        `json:"paymentsEnabled" db:"payments_enabled"`
	NotificationsEnabled bool        `json:"notificationsEnabled" db:"notifications_enabled"`
	CallbackURLs         StringSlice `json:"callbackUrls" db:"callback_urls"`
	RetryAttempts        int         `json:"retryAttempts" db:"retry_attempts"`
	TimeoutMS            int         `json:"timeoutMs" db:"timeout_ms"`
	SecretRotatedAt      *int64      `json:"secretRotatedAt,omitempty" db:"secret_rotated_at"`
	UpdatedAt            int64       `json:"updatedAt" db:"updated_at"`
}

// HasSecret reports whether inbound signature verification is enforced for the tenant.
func (s *WebhookSettings) HasSecret() bool {
	return s != nil && s.Secret != ""
}

// Webhook resource kinds accepted by the ingestion endpoints.
const (
	KindOrder        = "order"
	KindPayment      = "payment"
	KindNotification = "notification"
)

// Enabled reports whether the tenant accepts webhooks of kind.
func (s *WebhookSettings) Enabled(kind string) bool {
	switch kind {
	case KindOrder:
		return s.OrdersEnabled
	case KindPayment:
		return s.PaymentsEnabled
	case KindNotification:
		return s.NotificationsEnabled
	}
	return false
}

type StringSlice []string

// Value implements the driver.Valuer interface for StringSlice
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for StringSlice
func (s *StringSlice) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("string slice: unsupported column type %T", value)
	}
}

// WebhookEvent is the body POSTed to tenant callback URLs.
type WebhookEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	TenantID  string      `json:"tenantId"`
	Data      interface{} `json:"data"`
}

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryFailed    = "failed"
	DeliveryDelivered = "delivered"
	DeliveryAbandoned = "abandoned"
)

// WebhookDelivery stores an outbound callback that could not be delivered
// inline, so the worker can retry it with the original payload. EventID is
// sent as X-Webhook-Delivery on every attempt.
type WebhookDelivery struct {
	ID            string `json:"id" db:"id"`
	TenantID      string `json:"tenantId" db:"tenant_id"`
	EventID       string `json:"eventId" db:"event_id"`
	URL           string `json:"url" db:"url"`
	Event         string `json:"event" db:"event"`
	Payload       string `json:"payload" db:"payload"`
	Status        string `json:"status" db:"status"`
	Attempts      int    `json:"attempts" db:"attempts"`
	LastError     string `json:"lastError,omitempty" db:"last_error"`
	NextAttemptAt int64  `json:"nextAttemptAt" db:"next_attempt_at"`
	CreatedAt     int64  `json:"createdAt" db:"created_at"`
	UpdatedAt     int64  `json:"updatedAt" db:"updated_at"`
}
