package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bizdash/internal/platform/models"
)

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	if order.ID == "" {
		order.ID = "ord_" + uuid.New().String()
	}
	now := nowMillis()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Items == nil {
		order.Items = models.OrderItems{}
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, order_number, customer_name, customer_email, amount, status, payment_status, items, metadata, source, created_at, updated_at)
		VALUES (:id, :tenant_id, :order_number, :customer_name, :customer_email, :amount, :status, :payment_status, :items, :metadata, :source, :created_at, :updated_at)
	`, order)
	return err
}

const orderColumns = `id, tenant_id, order_number, customer_name, customer_email, amount, status, payment_status, items, metadata, source, created_at, updated_at`

// GetByIDTx looks the order up within tenantID only; nil, nil when absent.
func (r *OrderRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.Order, error) {
	order := &models.Order{}
	err := tx.GetContext(ctx, order, `SELECT `+orderColumns+` FROM orders WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, tenantID, number string) (*models.Order, error) {
	order := &models.Order{}
	err := r.db.GetContext(ctx, order, `SELECT `+orderColumns+` FROM orders WHERE tenant_id = ? AND order_number = ?`, tenantID, number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) UpdatePaymentStatusTx(ctx context.Context, tx *sqlx.Tx, tenantID, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET payment_status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		status, nowMillis(), tenantID, id)
	return err
}

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, p *models.Payment) error {
	if p.ID == "" {
		p.ID = "pay_" + uuid.New().String()
	}
	p.CreatedAt = nowMillis()
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, order_id, order_number, payment_id, amount, status, metadata, created_at)
		VALUES (:id, :tenant_id, :order_id, :order_number, :payment_id, :amount, :status, :metadata, :created_at)
	`, p)
	return err
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, tenantID, orderID string) ([]*models.Payment, error) {
	var out []*models.Payment
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, order_id, order_number, payment_id, amount, status, metadata, created_at
		FROM payments WHERE tenant_id = ? AND order_id = ? ORDER BY created_at
	`, tenantID, orderID)
	return out, err
}
