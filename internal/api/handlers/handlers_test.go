package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"

	apiContext "bizdash/internal/api/context"
	"bizdash/internal/engine/notifications"
	"bizdash/internal/engine/realtime"
	"bizdash/internal/engine/webhooks"
	"bizdash/internal/platform/audit"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

type testEnv struct {
	db            *sqlx.DB
	tenant        *models.Tenant
	other         *models.Tenant
	settings      *repositories.WebhookSettingsRepository
	audit         *audit.Logger
	hub           *realtime.Hub
	svc           *notifications.Service
	webhooks      *WebhookHandler
	notifications *NotificationHandler
	wsServer      *httptest.Server
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	hub := realtime.NewHub(realtime.HubOptions{SendBuffer: 16, BroadcastBuffer: 16})
	go hub.Serve(ctx)

	e := &testEnv{
		db:       db,
		settings: repositories.NewWebhookSettingsRepository(db, 3, 10000),
		audit:    audit.NewLogger(db),
		hub:      hub,
	}
	tenants := repositories.NewTenantRepository(db)
	e.tenant = &models.Tenant{Slug: "acme", Name: "Acme"}
	e.other = &models.Tenant{Slug: "globex", Name: "Globex"}
	for _, tenant := range []*models.Tenant{e.tenant, e.other} {
		if err := tenants.Create(ctx, tenant); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
	}

	e.svc = notifications.NewService(notifications.NewRepository(db), hub, nil)
	ingestor := webhooks.NewIngestor(webhooks.IngestorDeps{
		Tenants:       tenants,
		Settings:      e.settings,
		Orders:        repositories.NewOrderRepository(db),
		Payments:      repositories.NewPaymentRepository(db),
		Notifications: e.svc,
		Audit:         e.audit,
	})
	e.webhooks = NewWebhookHandler(ingestor, 4096)
	e.notifications = NewNotificationHandler(e.svc)

	e.wsServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, realtime.Identity{TenantID: r.URL.Query().Get("tenant")})
	}))
	t.Cleanup(func() {
		e.wsServer.Close()
		cancel()
	})
	return e
}

// subscribe connects a realtime session and joins tenantID's room.
func (e *testEnv) subscribe(t *testing.T, tenantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.wsServer.URL, "http") + "?tenant=" + tenantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	frame, _ := json.Marshal(realtime.Event{Type: realtime.EventJoinTenant, Data: tenantID})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}
	if env, err := nextEvent(conn, 2*time.Second); err != nil || env.Type != realtime.EventJoined {
		t.Fatalf("join: %q, %v", env.Type, err)
	}
	return conn
}

func nextEvent(conn *websocket.Conn, timeout time.Duration) (realtime.Envelope, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return realtime.Envelope{}, err
	}
	var env realtime.Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

func (e *testEnv) count(t *testing.T, table, tenantID string) int {
	t.Helper()
	var n int
	if err := e.db.Get(&n, `SELECT COUNT(*) FROM `+table+` WHERE tenant_id = ?`, tenantID); err != nil {
		t.Fatal(err)
	}
	return n
}

// sessionRequest builds a request as it looks after the auth and tenant
// middleware and the router have run.
func sessionRequest(method, target string, body []byte, tenant *models.Tenant, ps httprouter.Params) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), apiContext.Tenant, tenant)
	ctx = context.WithValue(ctx, apiContext.Claims, &auth.Claims{TenantID: tenant.ID, UserID: "usr_1", Role: models.RoleOwner})
	ctx = context.WithValue(ctx, apiContext.Params, ps)
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}
