package realtime

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"bizdash/internal/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

var clientIDCounter atomic.Uint64

// Identity is the authenticated principal behind a websocket session.
type Identity struct {
	TenantID string
	UserID   string
}

// Client is one websocket session. room is owned by the hub loop.
type Client struct {
	id       uint64
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity Identity
	room     string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin is enforced by the CORS layer and the session token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the session to the hub. The
// session only receives events after it sends join-tenant for its own tenant.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", identity.TenantID).Msg("Websocket upgrade failed")
		return
	}

	c := &Client{
		id:       clientIDCounter.Add(1),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		identity: identity,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	wait := c.hub.pongWait()
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Uint64("client_id", c.id).Msg("Unexpected websocket close")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(Event{Type: EventError, Data: ErrorData{Message: "malformed frame"}})
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case EventJoinTenant:
		tenantID := ParseTenantID(env.Data)
		if tenantID == "" || tenantID != c.identity.TenantID {
			log.Warn().Str("tenant_id", c.identity.TenantID).Str("requested", tenantID).Msg("Rejected join for foreign tenant")
			c.reply(Event{Type: EventError, Data: ErrorData{Message: "cannot join tenant"}})
			return
		}
		select {
		case c.hub.join <- membership{client: c, tenantID: tenantID}:
			c.reply(Event{Type: EventJoined, Data: JoinData{TenantID: tenantID}})
		case <-c.hub.done:
		}
	case EventLeaveTenant:
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
	case EventNotificationReceived:
		var ack AckData
		_ = env.Decode(&ack)
		metrics.NotificationAcks.Inc()
		log.Debug().Str("tenant_id", c.identity.TenantID).Str("notification_id", ack.NotificationID).Msg("Notification acknowledged")
	case EventPing:
		c.reply(Event{Type: EventPong})
	default:
		c.reply(Event{Type: EventError, Data: ErrorData{Message: "unknown event " + env.Type}})
	}
}

// reply sends a response to this session only, through the hub loop so it
// is ordered after any membership change the same frame caused.
func (c *Client) reply(event Event) {
	frame, err := encode(event)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, frame: frame}:
	case <-c.hub.done:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
