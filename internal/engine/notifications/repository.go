package notifications

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bizdash/internal/platform/models"
)

const columns = `id, tenant_id, user_id, title, message, type, priority, is_read, is_dismissed,
	action_url, action_text, entity_type, entity_id, metadata, created_at, updated_at, expires_at`

// Repository is the notification store. Every query is filtered by tenant.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *Repository) InsertTx(ctx context.Context, tx *sqlx.Tx, n *models.Notification) error {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.New().String()
	}
	if n.Metadata == nil {
		n.Metadata = models.Metadata{}
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, user_id, title, message, type, priority, is_read, is_dismissed,
			action_url, action_text, entity_type, entity_id, metadata, created_at, updated_at, expires_at)
		VALUES (:id, :tenant_id, :user_id, :title, :message, :type, :priority, :is_read, :is_dismissed,
			:action_url, :action_text, :entity_type, :entity_id, :metadata, :created_at, :updated_at, :expires_at)
	`, n)
	return err
}

// GetByID returns nil, nil when id does not exist in tenantID, including
// when it exists under another tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*models.Notification, error) {
	n := &models.Notification{}
	err := r.db.GetContext(ctx, n, `SELECT `+columns+` FROM notifications WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// SetFlags sets whichever of isRead and isDismissed is non-nil.
func (r *Repository) SetFlags(ctx context.Context, tenantID, id string, isRead, isDismissed *bool, now int64) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{now}
	if isRead != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, *isRead)
	}
	if isDismissed != nil {
		sets = append(sets, "is_dismissed = ?")
		args = append(args, *isDismissed)
	}
	args = append(args, tenantID, id)

	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET `+strings.Join(sets, ", ")+` WHERE tenant_id = ? AND id = ?`, args...)
	return err
}

// MarkAllRead flips every unread notification visible to userID (all of the
// tenant's when userID is empty) and returns how many changed.
func (r *Repository) MarkAllRead(ctx context.Context, tenantID, userID string, now int64) (int64, error) {
	where, args := audience(tenantID, userID)
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, updated_at = ? WHERE `+where+` AND is_read = 0`,
		append([]interface{}{now}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type ListFilter struct {
	TenantID         string
	UserID           string
	IncludeRead      bool
	IncludeDismissed bool
	Limit            int
	Now              int64
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.Notification, error) {
	where, args := audience(f.TenantID, f.UserID)
	conds := []string{where, "(expires_at IS NULL OR expires_at > ?)"}
	args = append(args, f.Now)
	if !f.IncludeRead {
		conds = append(conds, "is_read = 0")
	}
	if !f.IncludeDismissed {
		conds = append(conds, "is_dismissed = 0")
	}
	args = append(args, f.Limit)

	out := []*models.Notification{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+columns+` FROM notifications WHERE `+strings.Join(conds, " AND ")+
			` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	return out, err
}

// CountUnread counts unread, undismissed, unexpired notifications.
func (r *Repository) CountUnread(ctx context.Context, tenantID, userID string, now int64) (int64, error) {
	where, args := audience(tenantID, userID)
	args = append(args, now)
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM notifications WHERE `+where+
			` AND is_read = 0 AND is_dismissed = 0 AND (expires_at IS NULL OR expires_at > ?)`, args...)
	return n, err
}

// audience matches a user's own notifications plus tenant-wide ones.
func audience(tenantID, userID string) (string, []interface{}) {
	if userID == "" {
		return "tenant_id = ?", []interface{}{tenantID}
	}
	return "tenant_id = ? AND (user_id = ? OR user_id = '')", []interface{}{tenantID, userID}
}
