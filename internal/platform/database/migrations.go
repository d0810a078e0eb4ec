package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

type migration struct {
	version int
	sql     string
}

// migrations must be listed in ascending version order.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER NOT NULL,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	currency   TEXT NOT NULL DEFAULT 'USD',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	full_name     TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'member',
	last_login_at INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	user_id      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	type         TEXT NOT NULL,
	priority     TEXT NOT NULL,
	is_read      INTEGER NOT NULL DEFAULT 0,
	is_dismissed INTEGER NOT NULL DEFAULT 0,
	action_url   TEXT NOT NULL DEFAULT '',
	action_text  TEXT NOT NULL DEFAULT '',
	entity_type  TEXT NOT NULL DEFAULT '',
	entity_id    TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	expires_at   INTEGER
);

CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	order_number   TEXT NOT NULL,
	customer_name  TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	amount         REAL NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	payment_status TEXT NOT NULL DEFAULT '',
	items          TEXT NOT NULL DEFAULT '[]',
	metadata       TEXT NOT NULL DEFAULT '{}',
	source         TEXT NOT NULL DEFAULT 'webhook',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	UNIQUE (tenant_id, order_number)
);

CREATE TABLE IF NOT EXISTS payments (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	order_id     TEXT NOT NULL,
	order_number TEXT NOT NULL,
	payment_id   TEXT NOT NULL DEFAULT '',
	amount       REAL NOT NULL,
	status       TEXT NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_settings (
	tenant_id             TEXT PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
	secret                TEXT NOT NULL DEFAULT '',
	orders_enabled        INTEGER NOT NULL DEFAULT 1,
	payments_enabled      INTEGER NOT NULL DEFAULT 1,
	notifications_enabled INTEGER NOT NULL DEFAULT 1,
	callback_urls         TEXT NOT NULL DEFAULT '[]',
	retry_attempts        INTEGER NOT NULL DEFAULT 3,
	timeout_ms            INTEGER NOT NULL DEFAULT 30000,
	secret_rotated_at     INTEGER,
	updated_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant_created ON notifications(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_tenant_user ON notifications(tenant_id, user_id);
CREATE INDEX IF NOT EXISTS idx_payments_tenant_order ON payments(tenant_id, order_id);

INSERT INTO schema_version (version, applied_at) VALUES (1, strftime('%s','now') * 1000);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	event           TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	next_attempt_at INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries(status, next_attempt_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	resource   TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_logs(tenant_id, created_at);

INSERT INTO schema_version (version, applied_at) VALUES (2, strftime('%s','now') * 1000);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE webhook_deliveries ADD COLUMN event_id TEXT NOT NULL DEFAULT '';

INSERT INTO schema_version (version, applied_at) VALUES (3, strftime('%s','now') * 1000);
`,
	},
}

// Version returns the highest applied schema version, or 0 on a fresh database.
func Version(ctx context.Context, db *sqlx.DB) (int, error) {
	var tableCount int
	err := db.GetContext(ctx, &tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}
	var v int
	if err := db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// Migrate applies every outstanding migration, each in its own transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	current, err := Version(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		log.Info().Int("version", m.version).Msg("Applied migration")
	}
	return nil
}

// Latest is the schema version Migrate converges to.
func Latest() int {
	return migrations[len(migrations)-1].version
}
