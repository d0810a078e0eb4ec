package webhooks

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/engine/realtime"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/audit"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, tenantID string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type ingestFixture struct {
	db        *sqlx.DB
	tenant    *models.Tenant
	settings  *repositories.WebhookSettingsRepository
	audit     *audit.Logger
	publisher *recordingPublisher
	ingestor  *Ingestor
}

func setupIngestor(t *testing.T, requireSignature bool) *ingestFixture {
	t.Helper()
	db := setupDB(t)
	f := &ingestFixture{
		db:        db,
		tenant:    createTenant(t, db, "acme"),
		settings:  repositories.NewWebhookSettingsRepository(db, 3, 10000),
		audit:     audit.NewLogger(db),
		publisher: &recordingPublisher{},
	}
	svc := notifications.NewService(notifications.NewRepository(db), f.publisher, nil)
	f.ingestor = NewIngestor(IngestorDeps{
		Tenants:          repositories.NewTenantRepository(db),
		Settings:         f.settings,
		Orders:           repositories.NewOrderRepository(db),
		Payments:         repositories.NewPaymentRepository(db),
		Notifications:    svc,
		Audit:            f.audit,
		RequireSignature: requireSignature,
	})
	return f
}

func (f *ingestFixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := f.db.Get(&n, `SELECT COUNT(*) FROM `+table+` WHERE tenant_id = ?`, f.tenant.ID); err != nil {
		t.Fatal(err)
	}
	return n
}

func orderBody(tenantID, number string, amount string) []byte {
	return []byte(`{"tenantId":"` + tenantID + `","orderNumber":"` + number + `","customerName":"Ann","amount":` + amount + `}`)
}

func TestIngestOrder(t *testing.T) {
	f := setupIngestor(t, false)
	ctx := context.Background()

	res, err := f.ingestor.IngestOrder(ctx, Request{Body: orderBody(f.tenant.ID, "1001", "1500")})
	if err != nil {
		t.Fatalf("IngestOrder() error = %v", err)
	}
	if res.OrderNumber != "1001" || res.Status != "pending" || res.Amount != 1500 || res.NotificationID == "" {
		t.Errorf("result = %+v", res)
	}

	n, err := notifications.NewRepository(f.db).GetByID(ctx, f.tenant.ID, res.NotificationID)
	if err != nil || n == nil {
		t.Fatalf("GetByID() = %v, %v", n, err)
	}
	if n.Title != "New order #1001" || n.Priority != models.PriorityHigh || n.EntityID != res.OrderID || n.IsRead {
		t.Errorf("notification = %+v", n)
	}

	got := f.publisher.types()
	want := []string{realtime.EventNewNotification, realtime.EventDashboardRefresh}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestIngestOrder_Duplicate(t *testing.T) {
	f := setupIngestor(t, false)
	ctx := context.Background()

	if _, err := f.ingestor.IngestOrder(ctx, Request{Body: orderBody(f.tenant.ID, "1001", "10")}); err != nil {
		t.Fatal(err)
	}
	_, err := f.ingestor.IngestOrder(ctx, Request{Body: orderBody(f.tenant.ID, "1001", "10")})
	var conflict *errors.ConflictError
	if !stderrors.As(err, &conflict) {
		t.Fatalf("second IngestOrder() error = %v, want ConflictError", err)
	}
	if got := f.count(t, "notifications"); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestIngest_Rejections(t *testing.T) {
	tests := []struct {
		name             string
		secret           string
		requireSignature bool
		disableOrders    bool
		body             func(tenantID string) []byte
		sign             func(body []byte) string
		check            func(error) bool
		audited          bool
	}{
		{
			name:    "wrong signature",
			secret:  "s3cret",
			body:    func(id string) []byte { return orderBody(id, "1", "10") },
			sign:    func([]byte) string { return "deadbeef" },
			check:   isAuthError,
			audited: true,
		},
		{
			name:    "missing signature",
			secret:  "s3cret",
			body:    func(id string) []byte { return orderBody(id, "1", "10") },
			sign:    func([]byte) string { return "" },
			check:   isAuthError,
			audited: true,
		},
		{
			name:             "signature required globally",
			requireSignature: true,
			body:             func(id string) []byte { return orderBody(id, "1", "10") },
			sign:             func(b []byte) string { return Sign("anything", b) },
			check:            isAuthError,
			audited:          true,
		},
		{
			name:          "kind disabled",
			disableOrders: true,
			body:          func(id string) []byte { return orderBody(id, "1", "10") },
			check: func(err error) bool {
				var e *errors.ForbiddenError
				return stderrors.As(err, &e)
			},
		},
		{
			name: "unknown tenant",
			body: func(string) []byte { return orderBody("tnt_nope", "1", "10") },
			check: func(err error) bool {
				var e *errors.NotFoundError
				return stderrors.As(err, &e)
			},
		},
		{
			name:   "invalid payload after valid signature",
			secret: "s3cret",
			body:   func(id string) []byte { return orderBody(id, "1", "-3") },
			sign:   func(b []byte) string { return Sign("s3cret", b) },
			check: func(err error) bool {
				var e *errors.ValidationError
				return stderrors.As(err, &e) && e.FieldNames()[0] == "amount"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupIngestor(t, tt.requireSignature)
			ctx := context.Background()

			if tt.secret != "" {
				if err := f.settings.SetSecret(ctx, f.tenant.ID, tt.secret); err != nil {
					t.Fatal(err)
				}
			}
			if tt.disableOrders {
				err := f.settings.Upsert(ctx, &models.WebhookSettings{
					TenantID: f.tenant.ID, PaymentsEnabled: true, NotificationsEnabled: true,
					RetryAttempts: 3, TimeoutMS: 10000,
				})
				if err != nil {
					t.Fatal(err)
				}
			}

			body := tt.body(f.tenant.ID)
			req := Request{Body: body, RemoteIP: "203.0.113.9"}
			if tt.sign != nil {
				req.Signature = tt.sign(body)
			}

			_, err := f.ingestor.IngestOrder(ctx, req)
			if !tt.check(err) {
				t.Fatalf("IngestOrder() error = %v (%T)", err, err)
			}
			if got := f.count(t, "orders"); got != 0 {
				t.Errorf("orders written = %d", got)
			}
			if got := f.count(t, "notifications"); got != 0 {
				t.Errorf("notifications written = %d", got)
			}
			if len(f.publisher.types()) != 0 {
				t.Errorf("events published: %v", f.publisher.types())
			}

			entries, err := f.audit.Recent(ctx, f.tenant.ID, 10)
			if err != nil {
				t.Fatal(err)
			}
			if tt.audited != (len(entries) == 1) {
				t.Errorf("audit entries = %d, audited %v", len(entries), tt.audited)
			}
			if tt.audited && len(entries) == 1 && entries[0].IPAddress != "203.0.113.9" {
				t.Errorf("audit entry = %+v", entries[0])
			}
		})
	}
}

func isAuthError(err error) bool {
	var e *errors.AuthenticationError
	return stderrors.As(err, &e)
}

func TestIngestPayment_LinksOwnOrderOnly(t *testing.T) {
	f := setupIngestor(t, false)
	ctx := context.Background()
	other := createTenant(t, f.db, "globex")

	own, err := f.ingestor.IngestOrder(ctx, Request{Body: orderBody(f.tenant.ID, "1001", "10")})
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := f.ingestor.IngestOrder(ctx, Request{Body: orderBody(other.ID, "2001", "10")})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		orderID    string
		status     string
		wantLinked bool
		wantType   models.NotificationType
	}{
		{"own order", own.OrderID, "succeeded", true, models.TypePayment},
		{"other tenant's order", foreign.OrderID, "failed", false, models.TypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"tenantId":"` + f.tenant.ID + `","orderId":"` + tt.orderID +
				`","orderNumber":"1001","amount":10,"status":"` + tt.status + `","paymentId":"pi_` + tt.status + `"}`)
			res, err := f.ingestor.IngestPayment(ctx, Request{Body: body})
			if err != nil {
				t.Fatalf("IngestPayment() error = %v", err)
			}
			if res.OrderLinked != tt.wantLinked {
				t.Errorf("OrderLinked = %v, want %v", res.OrderLinked, tt.wantLinked)
			}

			var nType models.NotificationType
			if err := f.db.Get(&nType, `SELECT type FROM notifications WHERE id = ?`, res.NotificationID); err != nil {
				t.Fatal(err)
			}
			if nType != tt.wantType {
				t.Errorf("notification type = %q, want %q", nType, tt.wantType)
			}
		})
	}

	var ownStatus, foreignStatus string
	f.db.Get(&ownStatus, `SELECT payment_status FROM orders WHERE id = ?`, own.OrderID)
	f.db.Get(&foreignStatus, `SELECT payment_status FROM orders WHERE id = ?`, foreign.OrderID)
	if ownStatus != "succeeded" {
		t.Errorf("own order payment_status = %q", ownStatus)
	}
	if foreignStatus != "" {
		t.Errorf("foreign order payment_status = %q, want untouched", foreignStatus)
	}
}

func TestIngestNotification(t *testing.T) {
	f := setupIngestor(t, false)

	body := []byte(`{"tenantId":"` + f.tenant.ID + `","title":"Stock low","message":"Mugs below 5","type":"warning","priority":"high"}`)
	n, err := f.ingestor.IngestNotification(context.Background(), Request{Body: body})
	if err != nil {
		t.Fatalf("IngestNotification() error = %v", err)
	}
	if n.TenantID != f.tenant.ID || n.Type != models.TypeWarning || n.IsRead || n.IsDismissed {
		t.Errorf("notification = %+v", n)
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != realtime.EventNewNotification {
		t.Errorf("events = %v", got)
	}
}

func TestIngestNotification_PaddedTenantID(t *testing.T) {
	f := setupIngestor(t, false)
	if err := f.settings.SetSecret(context.Background(), f.tenant.ID, "s3cret"); err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"tenantId":"  ` + f.tenant.ID + ` ","title":"Stock low","message":"Mugs below 5","type":"warning","priority":"high"}`)
	n, err := f.ingestor.IngestNotification(context.Background(), Request{Body: body, Signature: Sign("s3cret", body)})
	if err != nil {
		t.Fatalf("IngestNotification() error = %v", err)
	}
	if n.TenantID != f.tenant.ID {
		t.Errorf("TenantID = %q, want %q", n.TenantID, f.tenant.ID)
	}
	if got := f.count(t, "notifications"); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}
