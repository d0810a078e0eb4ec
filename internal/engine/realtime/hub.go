package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/metrics"
)

// ErrHubStopped is returned by Publish once Serve's context is cancelled.
var ErrHubStopped = errors.New("realtime hub stopped")

type membership struct {
	client   *Client
	tenantID string
}

type directMessage struct {
	client *Client
	frame  []byte
}

type roomMessage struct {
	tenantID string
	event    string
	frame    []byte
}

// Hub owns every tenant room. Room membership is only changed by the Serve
// loop; readers take mu.
type Hub struct {
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan *Client
	direct     chan directMessage
	broadcast  chan roomMessage
	done       chan struct{}

	sendBuffer int
	pingPeriod time.Duration
	mu         sync.RWMutex
	stopOnce   sync.Once
}

type HubOptions struct {
	SendBuffer      int
	BroadcastBuffer int
	PingPeriod      time.Duration
}

func NewHub(opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.BroadcastBuffer <= 0 {
		opts.BroadcastBuffer = 256
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= pongWait {
		opts.PingPeriod = (pongWait * 9) / 10
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan *Client),
		direct:     make(chan directMessage),
		broadcast:  make(chan roomMessage, opts.BroadcastBuffer),
		done:       make(chan struct{}),
		sendBuffer: opts.SendBuffer,
		pingPeriod: opts.PingPeriod,
	}
}

func (h *Hub) pongWait() time.Duration {
	return (h.pingPeriod * 10) / 9
}

func (h *Hub) String() string { return "realtime-hub" }

// Serve runs the hub until ctx is cancelled, then closes every client.
// Lifecycle events are drained before broadcasts so a join that precedes a
// publish is always honoured. Only cancellation stops the hub; after a panic
// Serve can be called again with rooms intact.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		case m := <-h.join:
			h.joinRoom(m)
			continue
		case c := <-h.leave:
			h.leaveRoom(c)
			continue
		case d := <-h.direct:
			h.sendDirect(d)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.stop()
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case m := <-h.join:
			h.joinRoom(m)
		case c := <-h.leave:
			h.leaveRoom(c)
		case d := <-h.direct:
			h.sendDirect(d)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Publish queues event for the tenant's room without blocking. A full queue
// or a stopped hub yields a TransientDeliveryError.
func (h *Hub) Publish(ctx context.Context, tenantID string, event Event) error {
	frame, err := encode(event)
	if err != nil {
		return &apperrors.TransientDeliveryError{Op: "encode " + event.Type, Err: err}
	}
	return h.publishFrame(tenantID, event.Type, frame)
}

func (h *Hub) publishFrame(tenantID, eventType string, frame []byte) error {
	select {
	case <-h.done:
		return &apperrors.TransientDeliveryError{Op: "publish " + eventType, Err: ErrHubStopped}
	default:
	}

	select {
	case h.broadcast <- roomMessage{tenantID: tenantID, event: eventType, frame: frame}:
		return nil
	default:
		metrics.RealtimeEventsDropped.WithLabelValues("hub_full").Inc()
		return &apperrors.TransientDeliveryError{Op: "publish " + eventType, Err: errors.New("broadcast queue full")}
	}
}

// RoomSize reports how many sessions are in the tenant's room.
func (h *Hub) RoomSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	log.Debug().Uint64("client_id", c.id).Str("tenant_id", c.identity.TenantID).Int("total_clients", total).Msg("Realtime client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	h.dropLocked(c)
	log.Debug().Uint64("client_id", c.id).Int("total_clients", len(h.clients)).Msg("Realtime client disconnected")
}

// dropLocked removes c from its room and the client set and closes its send
// channel. Caller holds mu.
func (h *Hub) dropLocked(c *Client) {
	h.leaveLocked(c)
	delete(h.clients, c)
	close(c.send)
	metrics.RealtimeConnections.Dec()
}

func (h *Hub) joinRoom(m membership) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[m.client]; !ok {
		return
	}
	// a session belongs to exactly one room
	h.leaveLocked(m.client)

	room, ok := h.rooms[m.tenantID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[m.tenantID] = room
	}
	room[m.client] = struct{}{}
	m.client.room = m.tenantID
}

func (h *Hub) leaveRoom(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	if c.room == "" {
		return
	}
	if room, ok := h.rooms[c.room]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

func (h *Hub) sendDirect(d directMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[d.client]; !ok {
		return
	}
	select {
	case d.client.send <- d.frame:
	default:
	}
}

// deliver writes the frame to every session in the room, in client id
// order. Sessions whose buffer is full are disconnected.
func (h *Hub) deliver(msg roomMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[msg.tenantID]
	if len(room) == 0 {
		metrics.RealtimeEventsDropped.WithLabelValues("empty_room").Inc()
		return
	}

	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- msg.frame:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.RealtimeEventsDropped.WithLabelValues("slow_client").Inc()
		log.Warn().Uint64("client_id", c.id).Str("tenant_id", msg.tenantID).Str("event", msg.event).Msg("Dropping slow realtime client")
		h.dropLocked(c)
	}
	metrics.RealtimeEventsPublished.WithLabelValues(msg.event).Inc()
}

func (h *Hub) stop() {
	h.shutdown()
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.clients)
	for c := range h.clients {
		h.dropLocked(c)
	}
	log.Info().Str("component", h.String()).Int("clients_closed", n).Msg("Realtime hub stopped")
}
