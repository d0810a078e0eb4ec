package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/engine/realtime"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/validator"
	"bizdash/internal/platform/audit"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

// Orders at or above this amount are announced with high priority.
const largeOrderAmount = 1000

// Request is one inbound webhook call as received by the HTTP layer.
type Request struct {
	Body      []byte
	Signature string
	RemoteIP  string
}

type OrderResult struct {
	OrderID        string  `json:"orderId"`
	OrderNumber    string  `json:"orderNumber"`
	Status         string  `json:"status"`
	Amount         float64 `json:"amount"`
	NotificationID string  `json:"notificationId"`
}

type PaymentResult struct {
	ID             string `json:"id"`
	PaymentID      string `json:"paymentId"`
	Status         string `json:"status"`
	OrderLinked    bool   `json:"orderLinked"`
	NotificationID string `json:"notificationId"`
}

// Ingestor turns authenticated webhook calls into domain records plus a
// notification. The domain write and the notification share a transaction;
// the broadcast happens after commit and never undoes it.
type Ingestor struct {
	tenants          *repositories.TenantRepository
	settings         *repositories.WebhookSettingsRepository
	orders           *repositories.OrderRepository
	payments         *repositories.PaymentRepository
	notifications    *notifications.Service
	audit            *audit.Logger
	requireSignature bool
}

type IngestorDeps struct {
	Tenants       *repositories.TenantRepository
	Settings      *repositories.WebhookSettingsRepository
	Orders        *repositories.OrderRepository
	Payments      *repositories.PaymentRepository
	Notifications *notifications.Service
	Audit         *audit.Logger
	// RequireSignature rejects unsigned calls for tenants without a secret.
	RequireSignature bool
}

func NewIngestor(deps IngestorDeps) *Ingestor {
	return &Ingestor{
		tenants:          deps.Tenants,
		settings:         deps.Settings,
		orders:           deps.Orders,
		payments:         deps.Payments,
		notifications:    deps.Notifications,
		audit:            deps.Audit,
		requireSignature: deps.RequireSignature,
	}
}

// authenticate resolves the tenant named in the body and checks the
// signature and the kind toggle. Nothing is written except the audit entry
// for a rejected signature.
func (i *Ingestor) authenticate(ctx context.Context, kind string, req Request) (*models.Tenant, error) {
	tenantID, err := PeekTenantID(req.Body)
	if err != nil {
		return nil, err
	}

	tenant, err := i.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	if tenant == nil {
		return nil, &errors.NotFoundError{Resource: "tenant", ID: tenantID}
	}

	settings, err := i.settings.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading webhook settings: %w", err)
	}

	if settings.HasSecret() || i.requireSignature {
		reason := ""
		switch {
		case strings.TrimSpace(req.Signature) == "":
			reason = "missing signature"
		case !settings.HasSecret():
			reason = "no secret configured"
		case !Verify(settings.Secret, req.Body, req.Signature):
			reason = "signature mismatch"
		}
		if reason != "" {
			log.Warn().Str("tenant_id", tenantID).Str("kind", kind).Str("reason", reason).Msg("Webhook signature rejected")
			i.audit.Log(ctx, audit.Entry{
				TenantID:  tenantID,
				Action:    audit.ActionSignatureRejected,
				Resource:  kind,
				IPAddress: req.RemoteIP,
				Details:   models.Metadata{"reason": reason},
			})
			return nil, &errors.AuthenticationError{Reason: "Invalid webhook signature"}
		}
	}

	if !settings.Enabled(kind) {
		return nil, &errors.ForbiddenError{Reason: fmt.Sprintf("%s webhooks are disabled for this tenant", kind)}
	}
	return tenant, nil
}

func (i *Ingestor) IngestOrder(ctx context.Context, req Request) (*OrderResult, error) {
	tenant, err := i.authenticate(ctx, models.KindOrder, req)
	if err != nil {
		return nil, err
	}

	var p OrderPayload
	if err := validator.DecodeJSON(req.Body, &p); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = "pending"
	}

	order := &models.Order{
		TenantID:      tenant.ID,
		OrderNumber:   p.OrderNumber,
		CustomerName:  p.CustomerName,
		CustomerEmail: p.CustomerEmail,
		Amount:        *p.Amount,
		Status:        p.Status,
		Items:         p.Items,
		Metadata:      p.Metadata,
		Source:        "webhook",
	}

	tx, err := i.tenants.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := i.orders.CreateTx(ctx, tx, order); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, &errors.ConflictError{Reason: fmt.Sprintf("order %s already exists", p.OrderNumber)}
		}
		return nil, fmt.Errorf("creating order: %w", err)
	}

	n, err := i.notifications.CreateTx(ctx, tx, orderNotification(tenant, order))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing order: %w", err)
	}

	i.announce(ctx, n, "orders")
	log.Info().Str("tenant_id", tenant.ID).Str("order_id", order.ID).Msg("Order webhook processed")

	return &OrderResult{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		Amount:         order.Amount,
		NotificationID: n.ID,
	}, nil
}

func (i *Ingestor) IngestPayment(ctx context.Context, req Request) (*PaymentResult, error) {
	tenant, err := i.authenticate(ctx, models.KindPayment, req)
	if err != nil {
		return nil, err
	}

	var p PaymentPayload
	if err := validator.DecodeJSON(req.Body, &p); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		TenantID:    tenant.ID,
		OrderID:     p.OrderID,
		OrderNumber: p.OrderNumber,
		PaymentID:   p.PaymentID,
		Amount:      *p.Amount,
		Status:      p.Status,
		Metadata:    p.Metadata,
	}

	tx, err := i.tenants.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := i.payments.CreateTx(ctx, tx, payment); err != nil {
		return nil, fmt.Errorf("recording payment: %w", err)
	}

	// only link orders the tenant owns
	order, err := i.orders.GetByIDTx(ctx, tx, tenant.ID, p.OrderID)
	if err != nil {
		return nil, fmt.Errorf("loading order: %w", err)
	}
	if order != nil {
		if err := i.orders.UpdatePaymentStatusTx(ctx, tx, tenant.ID, order.ID, p.Status); err != nil {
			return nil, fmt.Errorf("updating order payment status: %w", err)
		}
	}

	n, err := i.notifications.CreateTx(ctx, tx, paymentNotification(tenant, payment))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing payment: %w", err)
	}

	i.announce(ctx, n, "payments")
	log.Info().Str("tenant_id", tenant.ID).Str("payment_id", payment.PaymentID).Bool("order_linked", order != nil).Msg("Payment webhook processed")

	return &PaymentResult{
		ID:             payment.ID,
		PaymentID:      payment.PaymentID,
		Status:         payment.Status,
		OrderLinked:    order != nil,
		NotificationID: n.ID,
	}, nil
}

// IngestNotification stores a notification supplied verbatim by the caller.
func (i *Ingestor) IngestNotification(ctx context.Context, req Request) (*models.Notification, error) {
	tenant, err := i.authenticate(ctx, models.KindNotification, req)
	if err != nil {
		return nil, err
	}

	var p NotificationPayload
	if err := validator.DecodeJSON(req.Body, &p); err != nil {
		return nil, err
	}
	p.TenantID = tenant.ID
	return i.notifications.Create(ctx, p)
}

func (i *Ingestor) announce(ctx context.Context, n *models.Notification, refresh string) {
	i.notifications.Announce(ctx, n)
	i.notifications.Publish(ctx, n.TenantID, realtime.Event{
		Type: realtime.EventDashboardRefresh,
		Data: models.DashboardRefresh{Type: refresh},
	})
}

func orderNotification(tenant *models.Tenant, o *models.Order) notifications.CreateInput {
	priority := models.PriorityMedium
	if o.Amount >= largeOrderAmount {
		priority = models.PriorityHigh
	}
	return notifications.CreateInput{
		TenantID:   tenant.ID,
		Title:      fmt.Sprintf("New order #%s", o.OrderNumber),
		Message:    fmt.Sprintf("%s placed an order for %s %.2f", o.CustomerName, tenant.Currency, o.Amount),
		Type:       models.TypeOrder,
		Priority:   priority,
		ActionURL:  "/dashboard/orders/" + o.ID,
		ActionText: "View order",
		EntityType: "order",
		EntityID:   o.ID,
		Metadata: models.Metadata{
			"orderNumber": o.OrderNumber,
			"amount":      o.Amount,
			"status":      o.Status,
		},
	}
}

func paymentNotification(tenant *models.Tenant, p *models.Payment) notifications.CreateInput {
	title := "Payment " + p.Status
	priority := models.PriorityMedium
	nType := models.TypePayment
	switch p.Status {
	case "succeeded", "completed":
		title = "Payment received"
	case "failed":
		title = "Payment failed"
		priority = models.PriorityHigh
		nType = models.TypeError
	}
	return notifications.CreateInput{
		TenantID:   tenant.ID,
		Title:      title,
		Message:    fmt.Sprintf("%s %.2f for order #%s (%s)", tenant.Currency, p.Amount, p.OrderNumber, p.Status),
		Type:       nType,
		Priority:   priority,
		ActionURL:  "/dashboard/orders/" + p.OrderID,
		ActionText: "View order",
		EntityType: "payment",
		EntityID:   p.ID,
		Metadata: models.Metadata{
			"paymentId":   p.PaymentID,
			"orderId":     p.OrderID,
			"orderNumber": p.OrderNumber,
			"amount":      p.Amount,
		},
	}
}
