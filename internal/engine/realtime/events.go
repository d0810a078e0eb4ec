// Package realtime fans notification events out to per-tenant rooms of
// websocket clients.
package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

// Client to server events.
const (
	EventJoinTenant           = "join-tenant"
	EventLeaveTenant          = "leave-tenant"
	EventNotificationReceived = "notification-received"
)

// Server to client events.
const (
	EventNewNotification         = "new-notification"
	EventNotificationUpdated     = "notification-updated"
	EventNotificationsMarkedRead = "notifications-marked-read"
	EventDashboardRefresh        = "dashboard-refresh"
	EventJoined                  = "joined"
	EventError                   = "error"
)

// Keepalive, either direction.
const (
	EventPing = "ping"
	EventPong = "pong"
)

// Event is the {"type","data"} frame written to clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Envelope is an inbound frame whose data is decoded lazily by type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the envelope's data into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return errors.New("realtime: empty event data")
	}
	return json.Unmarshal(e.Data, v)
}

type ErrorData struct {
	Message string `json:"message"`
}

type JoinData struct {
	TenantID string `json:"tenantId"`
}

type AckData struct {
	NotificationID string `json:"notificationId"`
}

// ParseTenantID accepts either a bare string or {"tenantId": "..."} as the
// data of a join-tenant or leave-tenant frame.
func ParseTenantID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var jd JoinData
	if err := json.Unmarshal(raw, &jd); err == nil {
		return strings.TrimSpace(jd.TenantID)
	}
	return ""
}

// Publisher delivers an event to every session in a tenant's room.
// Delivery is at-most-once; a returned error is always transient.
type Publisher interface {
	Publish(ctx context.Context, tenantID string, event Event) error
}

func encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}
