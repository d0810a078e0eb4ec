package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"bizdash/internal/platform/models"
)

const (
	ActionSignatureRejected = "webhook.signature_rejected"
	ActionSecretGenerated   = "webhook.secret_generated"
	ActionSettingsUpdated   = "webhook.settings_updated"
)

type Entry struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenantId" db:"tenant_id"`
	ActorID   string          `json:"actorId,omitempty" db:"actor_id"`
	Action    string          `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"`
	IPAddress string          `json:"ipAddress,omitempty" db:"ip_address"`
	Details   models.Metadata `json:"details,omitempty" db:"details"`
	CreatedAt int64           `json:"createdAt" db:"created_at"`
}

type Logger struct {
	db *sqlx.DB
}

func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

// Log records a security-relevant action. Failures are logged and swallowed;
// auditing never fails the request that triggered it. Details must not carry
// secrets or signatures.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = "aud_" + uuid.New().String()
	}
	e.CreatedAt = time.Now().UnixMilli()

	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_id, action, resource, ip_address, details, created_at)
		VALUES (:id, :tenant_id, :actor_id, :action, :resource, :ip_address, :details, :created_at)
	`, e)
	if err != nil {
		log.Error().Err(err).Str("action", e.Action).Str("tenant_id", e.TenantID).Msg("Failed to write audit entry")
	}
}

// Recent returns the latest entries for a tenant, newest first.
func (l *Logger) Recent(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	var out []Entry
	err := l.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, actor_id, action, resource, ip_address, details, created_at
		FROM audit_logs WHERE tenant_id = ? ORDER BY created_at DESC, id LIMIT ?
	`, tenantID, limit)
	return out, err
}
