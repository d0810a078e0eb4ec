package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bizdash/internal/platform/models"
)

type WebhookSettingsRepository struct {
	db            *sqlx.DB
	retryAttempts int
	timeoutMS     int
}

// NewWebhookSettingsRepository uses retryAttempts and timeoutMS for tenants
// that never saved settings.
func NewWebhookSettingsRepository(db *sqlx.DB, retryAttempts, timeoutMS int) *WebhookSettingsRepository {
	return &WebhookSettingsRepository{db: db, retryAttempts: retryAttempts, timeoutMS: timeoutMS}
}

// Get returns the stored settings, or the defaults (every kind enabled, no
// secret) when the tenant has none.
func (r *WebhookSettingsRepository) Get(ctx context.Context, tenantID string) (*models.WebhookSettings, error) {
	s := &models.WebhookSettings{}
	err := r.db.GetContext(ctx, s, `
		SELECT tenant_id, secret, orders_enabled, payments_enabled, notifications_enabled,
		       callback_urls, retry_attempts, timeout_ms, secret_rotated_at, updated_at
		FROM webhook_settings WHERE tenant_id = ?
	`, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.defaults(tenantID), nil
		}
		return nil, err
	}
	return s, nil
}

func (r *WebhookSettingsRepository) defaults(tenantID string) *models.WebhookSettings {
	return &models.WebhookSettings{
		TenantID:             tenantID,
		OrdersEnabled:        true,
		PaymentsEnabled:      true,
		NotificationsEnabled: true,
		CallbackURLs:         models.StringSlice{},
		RetryAttempts:        r.retryAttempts,
		TimeoutMS:            r.timeoutMS,
	}
}

// Upsert writes everything except the secret, which only SetSecret changes.
func (r *WebhookSettingsRepository) Upsert(ctx context.Context, s *models.WebhookSettings) error {
	s.UpdatedAt = nowMillis()
	if s.CallbackURLs == nil {
		s.CallbackURLs = models.StringSlice{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_settings (tenant_id, orders_enabled, payments_enabled, notifications_enabled, callback_urls, retry_attempts, timeout_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			orders_enabled = excluded.orders_enabled,
			payments_enabled = excluded.payments_enabled,
			notifications_enabled = excluded.notifications_enabled,
			callback_urls = excluded.callback_urls,
			retry_attempts = excluded.retry_attempts,
			timeout_ms = excluded.timeout_ms,
			updated_at = excluded.updated_at
	`, s.TenantID, s.OrdersEnabled, s.PaymentsEnabled, s.NotificationsEnabled, s.CallbackURLs, s.RetryAttempts, s.TimeoutMS, s.UpdatedAt)
	return err
}

// SetSecret stores a new signing secret, creating the settings row with
// defaults if needed.
func (r *WebhookSettingsRepository) SetSecret(ctx context.Context, tenantID, secret string) error {
	d := r.defaults(tenantID)
	now := nowMillis()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_settings (tenant_id, secret, orders_enabled, payments_enabled, notifications_enabled, callback_urls, retry_attempts, timeout_ms, secret_rotated_at, updated_at)
		VALUES (?, ?, 1, 1, 1, '[]', ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			secret = excluded.secret,
			secret_rotated_at = excluded.secret_rotated_at,
			updated_at = excluded.updated_at
	`, tenantID, secret, d.RetryAttempts, d.TimeoutMS, now, now)
	return err
}

type DeliveryRepository struct {
	db *sqlx.DB
}

func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *models.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = "dlv_" + uuid.New().String()
	}
	now := nowMillis()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DeliveryPending
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, event_id, url, event, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		VALUES (:id, :tenant_id, :event_id, :url, :event, :payload, :status, :attempts, :last_error, :next_attempt_at, :created_at, :updated_at)
	`, d)
	return err
}

// Due lists failed deliveries whose next attempt is at or before now.
func (r *DeliveryRepository) Due(ctx context.Context, now int64, limit int) ([]*models.WebhookDelivery, error) {
	var out []*models.WebhookDelivery
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, event_id, url, event, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at
		FROM webhook_deliveries
		WHERE status IN (?, ?) AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?
	`, models.DeliveryPending, models.DeliveryFailed, now, limit)
	return out, err
}

func (r *DeliveryRepository) MarkDelivered(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status = ?, attempts = ?, last_error = '', updated_at = ? WHERE id = ?`,
		models.DeliveryDelivered, attempts, nowMillis(), id)
	return err
}

func (r *DeliveryRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		models.DeliveryFailed, attempts, lastError, nextAttemptAt, nowMillis(), id)
	return err
}

func (r *DeliveryRepository) Abandon(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.DeliveryAbandoned, attempts, lastError, nowMillis(), id)
	return err
}

// PruneBefore deletes finished deliveries last touched before cutoff.
func (r *DeliveryRepository) PruneBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE status IN (?, ?) AND updated_at < ?`,
		models.DeliveryDelivered, models.DeliveryAbandoned, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
