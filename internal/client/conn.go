package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"bizdash/internal/engine/realtime"
)

var ErrNotConnected = errors.New("realtime: not connected")

// Handler receives the envelope of one server event.
type Handler func(env realtime.Envelope)

// Realtime is what the hook needs from a connection.
type Realtime interface {
	On(event string, h Handler) (unsubscribe func())
	Emit(event string, data interface{}) error
	Connected() bool
	OnStateChange(fn func(connected bool)) (unsubscribe func())
}

var _ Realtime = (*ConnectionManager)(nil)

type ConnOptions struct {
	// ReadTimeout bounds the silence between frames or server pings.
	ReadTimeout     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Dialer          *websocket.Dialer
}

// ConnectionManager owns one websocket to the realtime endpoint. It dials in
// the background, re-dials with exponential backoff after a drop and joins
// the tenant room on every successful connection.
type ConnectionManager struct {
	url  string
	opts ConnOptions

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex

	subMu    sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	watchers map[int]func(bool)
}

func NewConnectionManager(wsURL string, opts ConnOptions) *ConnectionManager {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &ConnectionManager{
		url:      wsURL,
		opts:     opts,
		handlers: make(map[string]map[int]Handler),
		watchers: make(map[int]func(bool)),
	}
}

// Connect starts the connection loop for tenantID and returns immediately.
// Calling it again replaces the previous loop.
func (m *ConnectionManager) Connect(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("realtime: tenant id is required")
	}
	m.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx, tenantID)
	}()
	return nil
}

// Disconnect stops the loop and waits for it to exit.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-done
}

func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// On registers h for events of the given type.
func (m *ConnectionManager) On(event string, h Handler) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.handlers[event][id] = h
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.handlers[event], id)
	}
}

// OnStateChange registers fn to be told when the room is joined or the
// connection drops.
func (m *ConnectionManager) OnStateChange(fn func(connected bool)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.watchers, id)
	}
}

// Emit sends one client event. It fails fast while disconnected.
func (m *ConnectionManager) Emit(event string, data interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, realtime.Event{Type: event, Data: data})
}

func (m *ConnectionManager) write(conn *websocket.Conn, event realtime.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *ConnectionManager) run(ctx context.Context, tenantID string) {
	for {
		conn, err := m.dial(ctx)
		if err != nil {
			// only a cancelled context ends the retry loop
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		if err := m.write(conn, realtime.Event{Type: realtime.EventJoinTenant, Data: tenantID}); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to send join")
		} else {
			m.listen(ctx, conn)
		}

		_ = conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.setConnected(false)

		if ctx.Err() != nil {
			return
		}
		log.Info().Str("tenant_id", tenantID).Msg("Realtime connection lost, reconnecting")
	}
}

func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialInterval
	b.MaxInterval = m.opts.MaxInterval

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := m.opts.Dialer.DialContext(ctx, m.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
				log.Error().Int("status", resp.StatusCode).Msg("Realtime endpoint rejected the token")
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retry_in", next).Msg("Realtime dial failed")
		}),
	)
}

// listen reads until the connection fails or ctx ends.
func (m *ConnectionManager) listen(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Realtime read failed")
			}
			return
		}
		extend()

		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed realtime frame")
			continue
		}
		switch env.Type {
		case realtime.EventJoined:
			m.setConnected(true)
		case realtime.EventError:
			var e realtime.ErrorData
			_ = env.Decode(&e)
			log.Warn().Str("message", e.Message).Msg("Realtime server error")
		}
		m.dispatch(env)
	}
}

func (m *ConnectionManager) dispatch(env realtime.Envelope) {
	m.subMu.RLock()
	hs := make([]Handler, 0, len(m.handlers[env.Type]))
	for _, h := range m.handlers[env.Type] {
		hs = append(hs, h)
	}
	m.subMu.RUnlock()

	for _, h := range hs {
		h(env)
	}
}

func (m *ConnectionManager) setConnected(connected bool) {
	m.mu.Lock()
	changed := m.connected != connected
	m.connected = connected
	m.mu.Unlock()
	if !changed {
		return
	}

	m.subMu.RLock()
	fns := make([]func(bool), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range fns {
		fn(connected)
	}
}
