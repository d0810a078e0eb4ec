package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type Order struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenantId" db:"tenant_id"`
	OrderNumber   string     `json:"orderNumber" db:"order_number"`
	CustomerName  string     `json:"customerName" db:"customer_name"`
	CustomerEmail string     `json:"customerEmail,omitempty" db:"customer_email"`
	Amount        float64    `json:"amount" db:"amount"`
	Status        string     `json:"status" db:"status"`
	PaymentStatus string     `json:"paymentStatus,omitempty" db:"payment_status"`
	Items         OrderItems `json:"items" db:"items"`
	Metadata      Metadata   `json:"metadata,omitempty" db:"metadata"`
	Source        string     `json:"source" db:"source"`
	CreatedAt     int64      `json:"createdAt" db:"created_at"`
	UpdatedAt     int64      `json:"updatedAt" db:"updated_at"`
}

type OrderItem struct {
	ProductID string  `json:"productId,omitempty"`
	Name      string  `json:"name" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Price     float64 `json:"price" validate:"gte=0"`
}

type OrderItems []OrderItem

// Value implements the driver.Valuer interface for OrderItems
func (o OrderItems) Value() (driver.Value, error) {
	if o == nil {
		return "[]", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for OrderItems
func (o *OrderItems) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*o = nil
		return nil
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	default:
		return fmt.Errorf("order items: unsupported column type %T", value)
	}
}

type Payment struct {
	ID          string   `json:"id" db:"id"`
	TenantID    string   `json:"tenantId" db:"tenant_id"`
	OrderID     string   `json:"orderId" db:"order_id"`
	OrderNumber string   `json:"orderNumber" db:"order_number"`
	PaymentID   string   `json:"paymentId" db:"payment_id"`
	Amount      float64  `json:"amount" db:"amount"`
	Status      string   `json:"status" db:"status"`
	Metadata    Metadata `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   int64    `json:"createdAt" db:"created_at"`
}
