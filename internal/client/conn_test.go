package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"bizdash/internal/engine/realtime"
	"bizdash/internal/platform/models"
)

func startHub(t *testing.T) *realtime.Hub {
	t.Helper()
	hub := realtime.NewHub(realtime.HubOptions{SendBuffer: 16, BroadcastBuffer: 16})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Serve(ctx)
	t.Cleanup(cancel)
	return hub
}

func wsURL(srv *httptest.Server, tenantID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenant=" + tenantID
}

func fastOptions() ConnOptions {
	return ConnOptions{
		ReadTimeout:     5 * time.Second,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	}
}

func waitState(t *testing.T, states <-chan bool, want bool) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for connected=%v", want)
		}
	}
}

func TestConnectionManager_JoinAndReceive(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, realtime.Identity{TenantID: r.URL.Query().Get("tenant")})
	}))
	defer srv.Close()

	m := NewConnectionManager(wsURL(srv, "tnt_1"), fastOptions())
	states := make(chan bool, 8)
	m.OnStateChange(func(c bool) { states <- c })
	received := make(chan models.Notification, 1)
	m.On(realtime.EventNewNotification, func(env realtime.Envelope) {
		var n models.Notification
		if err := env.Decode(&n); err == nil {
			received <- n
		}
	})

	if err := m.Emit(realtime.EventPing, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit() before connect = %v, want ErrNotConnected", err)
	}
	if err := m.Connect(context.Background(), "tnt_1"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	waitState(t, states, true)
	if !m.Connected() {
		t.Error("Connected() = false after joined")
	}

	event := realtime.Event{Type: realtime.EventNewNotification, Data: models.Notification{ID: "ntf_1", TenantID: "tnt_1"}}
	if err := hub.Publish(context.Background(), "tnt_1", event); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-received:
		if n.ID != "ntf_1" {
			t.Errorf("received %q", n.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	if err := m.Emit(realtime.EventNotificationReceived, realtime.AckData{NotificationID: "ntf_1"}); err != nil {
		t.Errorf("Emit() ack = %v", err)
	}

	m.Disconnect()
	waitState(t, states, false)
	if hub.RoomSize("tnt_1") != 0 {
		// the hub drops the session once it sees the close
		deadline := time.Now().Add(2 * time.Second)
		for hub.RoomSize("tnt_1") != 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if n := hub.RoomSize("tnt_1"); n != 0 {
			t.Errorf("room size after disconnect = %d", n)
		}
	}
}

func TestConnectionManager_ReconnectsAndRejoins(t *testing.T) {
	hub := startHub(t)
	var attempts atomic.Int32
	joins := make(chan string, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			http.Error(w, "warming up", http.StatusServiceUnavailable)
		case 2:
			// take the join, then drop the connection
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			_, data, err := conn.ReadMessage()
			if err == nil {
				var env realtime.Envelope
				if json.Unmarshal(data, &env) == nil && env.Type == realtime.EventJoinTenant {
					joins <- realtime.ParseTenantID(env.Data)
				}
			}
			_ = conn.Close()
		default:
			hub.ServeWS(w, r, realtime.Identity{TenantID: r.URL.Query().Get("tenant")})
		}
	}))
	defer srv.Close()

	m := NewConnectionManager(wsURL(srv, "tnt_1"), fastOptions())
	states := make(chan bool, 8)
	m.OnStateChange(func(c bool) { states <- c })
	if err := m.Connect(context.Background(), "tnt_1"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	waitState(t, states, true)
	select {
	case tenant := <-joins:
		if tenant != "tnt_1" {
			t.Errorf("dropped session joined %q", tenant)
		}
	default:
		t.Error("first session never sent a join")
	}
	if n := attempts.Load(); n < 3 {
		t.Errorf("attempts = %d, want at least 3", n)
	}
	if hub.RoomSize("tnt_1") != 1 {
		t.Errorf("room size = %d, want 1", hub.RoomSize("tnt_1"))
	}
}

func TestConnectionManager_ForeignJoinStaysDisconnected(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, realtime.Identity{TenantID: "tnt_1"})
	}))
	defer srv.Close()

	m := NewConnectionManager(wsURL(srv, "tnt_1"), fastOptions())
	errs := make(chan string, 1)
	m.On(realtime.EventError, func(env realtime.Envelope) {
		var e realtime.ErrorData
		_ = env.Decode(&e)
		select {
		case errs <- e.Message:
		default:
		}
	})
	if err := m.Connect(context.Background(), "tnt_2"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	select {
	case msg := <-errs:
		if msg == "" {
			t.Error("empty error message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event for foreign join")
	}
	if m.Connected() {
		t.Error("Connected() = true after rejected join")
	}
}

func TestConnectionManager_ConnectRequiresTenant(t *testing.T) {
	m := NewConnectionManager("ws://127.0.0.1:1", ConnOptions{})
	if err := m.Connect(context.Background(), ""); err == nil {
		t.Error("Connect() with empty tenant succeeded")
	}
	m.Disconnect()
}
