package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bizdash/internal/platform/models"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

type TenantRepository struct {
	db *sqlx.DB
}

func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *TenantRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, tenant *models.Tenant) error {
	return insertTenant(ctx, tx, tenant)
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	return insertTenant(ctx, r.db, tenant)
}

func insertTenant(ctx context.Context, exec sqlx.ExecerContext, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = "tnt_" + uuid.New().String()
	}
	if tenant.Currency == "" {
		tenant.Currency = "USD"
	}
	now := nowMillis()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	_, err := exec.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tenant.ID, tenant.Slug, tenant.Name, tenant.Currency, tenant.CreatedAt, tenant.UpdatedAt)
	return err
}

// GetByID returns nil, nil when the tenant does not exist.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := r.db.GetContext(ctx, tenant, `SELECT id, slug, name, currency, created_at, updated_at FROM tenants WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tenant, nil
}

func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := r.db.GetContext(ctx, tenant, `SELECT id, slug, name, currency, created_at, updated_at FROM tenants WHERE slug = ?`, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tenant, nil
}

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	return insertUser(ctx, tx, user)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return insertUser(ctx, r.db, user)
}

func insertUser(ctx context.Context, exec sqlx.ExecerContext, user *models.User) error {
	if user.ID == "" {
		user.ID = "usr_" + uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleMember
	}
	now := nowMillis()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, full_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.TenantID, user.Email, user.PasswordHash, user.FullName, user.Role, user.CreatedAt, user.UpdatedAt)
	return err
}

const userColumns = `id, tenant_id, email, password_hash, full_name, role, last_login_at, created_at, updated_at`

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, timestamp int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, timestamp, userID)
	return err
}
