package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/engine/realtime"
	"bizdash/internal/platform/models"
)

const DefaultPollInterval = 30 * time.Second

var ErrHookStopped = errors.New("client: hook is not running")

// State is one consistent view of the hook. Notifications is a private copy.
type State struct {
	Notifications []models.Notification
	UnreadCount   int64
	Connected     bool
	Loading       bool
	LastFetched   time.Time
	Err           error
}

type Option func(*Hook)

// WithPollInterval sets how often the server listing replaces local state.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hook) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithUserID scopes listing, counting and mark-all to one user plus the
// tenant-wide notifications.
func WithUserID(id string) Option {
	return func(h *Hook) { h.userID = id }
}

// WithCompensation rolls an optimistic change back when its API call fails.
// Without it the change stays until the next successful poll.
func WithCompensation(on bool) Option {
	return func(h *Hook) { h.compensate = on }
}

// pending is an optimistic change awaiting the server's answer.
type pending struct {
	previous   State
	apply      func(s *State)
	compensate func(s *State, previous State)
}

// Hook reconciles polled listings with pushed events. Every change to its
// state runs on the Run goroutine, in arrival order; whichever write lands
// last wins.
type Hook struct {
	api      NotificationsAPI
	conn     Realtime
	tenantID string

	pollInterval time.Duration
	userID       string
	compensate   bool

	inbox   chan func(*State)
	refresh chan struct{}
	stopped chan struct{}

	state State // owned by Run

	mu       sync.RWMutex
	snapshot State

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(State)
}

func NewHook(api NotificationsAPI, conn Realtime, tenantID string, opts ...Option) *Hook {
	h := &Hook{
		api:          api,
		conn:         conn,
		tenantID:     tenantID,
		pollInterval: DefaultPollInterval,
		inbox:        make(chan func(*State), 64),
		refresh:      make(chan struct{}, 1),
		stopped:      make(chan struct{}),
		subs:         make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run polls immediately and then on every interval, applies pushed events
// and serves queued mutations until ctx ends.
func (h *Hook) Run(ctx context.Context) error {
	defer close(h.stopped)

	unsubs := []func(){
		h.conn.On(realtime.EventNewNotification, h.onNew),
		h.conn.On(realtime.EventNotificationUpdated, h.onUpdated),
		h.conn.On(realtime.EventNotificationsMarkedRead, h.onMarkedRead),
		h.conn.OnStateChange(h.onStateChange),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	h.state.Connected = h.conn.Connected()
	h.state.Loading = true
	h.publish()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	go h.Refetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-h.inbox:
			fn(&h.state)
			h.publish()
		case <-ticker.C:
			go h.Refetch(ctx)
		case <-h.refresh:
			go h.Refetch(ctx)
		}
	}
}

// Snapshot returns the latest published state.
func (h *Hook) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyState(h.snapshot)
}

// Subscribe calls fn with every new state, on the Run goroutine. fn must
// not block.
func (h *Hook) Subscribe(fn func(State)) func() {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	return func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		delete(h.subs, id)
	}
}

// Refetch replaces the list and unread count with the server's. A poll that
// completes after a newer one still applies.
func (h *Hook) Refetch(ctx context.Context) error {
	list, err := h.api.List(ctx, ListOptions{UserID: h.userID})
	var count int64
	if err == nil {
		count, err = h.api.Count(ctx, h.userID)
	}
	if err != nil {
		log.Debug().Err(err).Str("tenant_id", h.tenantID).Msg("Notification poll failed")
		h.dispatch(ctx, func(s *State) {
			s.Loading = false
			s.Err = err
		})
		return err
	}

	fetched := time.Now()
	h.dispatch(ctx, func(s *State) {
		s.Notifications = list
		s.UnreadCount = count
		s.Loading = false
		s.LastFetched = fetched
		s.Err = nil
	})
	return nil
}

func (h *Hook) MarkAsRead(ctx context.Context, id string) error {
	read := true
	return h.mutate(ctx, func() error {
		_, err := h.api.Update(ctx, id, notifications.UpdateInput{IsRead: &read})
		return err
	}, pending{
		apply: func(s *State) {
			if i := indexOf(s.Notifications, id); i >= 0 && !s.Notifications[i].IsRead {
				if counts(s.Notifications[i]) {
					s.UnreadCount = max(s.UnreadCount-1, 0)
				}
				s.Notifications[i].IsRead = true
			}
		},
		compensate: restoreEntries(id),
	})
}

func (h *Hook) Dismiss(ctx context.Context, id string) error {
	dismissed := true
	return h.mutate(ctx, func() error {
		_, err := h.api.Update(ctx, id, notifications.UpdateInput{IsDismissed: &dismissed})
		return err
	}, pending{
		apply: func(s *State) {
			if i := indexOf(s.Notifications, id); i >= 0 && !s.Notifications[i].IsDismissed {
				if counts(s.Notifications[i]) {
					s.UnreadCount = max(s.UnreadCount-1, 0)
				}
				s.Notifications[i].IsDismissed = true
			}
		},
		compensate: restoreEntries(id),
	})
}

func (h *Hook) MarkAllAsRead(ctx context.Context) error {
	return h.mutate(ctx, func() error {
		_, err := h.api.MarkAllRead(ctx, h.userID)
		return err
	}, pending{
		apply: markAllRead,
		compensate: func(s *State, previous State) {
			restoreEntries(idsOf(previous.Notifications)...)(s, previous)
			// the count also covers entries that were never loaded
			s.UnreadCount = max(s.UnreadCount, previous.UnreadCount)
		},
	})
}

// mutate applies tx locally, performs call, then re-polls. On failure the
// error is recorded in State and returned; the local change is undone only
// when compensation is on.
func (h *Hook) mutate(ctx context.Context, call func() error, tx pending) error {
	applied := make(chan State, 1)
	if !h.dispatch(ctx, func(s *State) {
		previous := copyState(*s)
		tx.apply(s)
		applied <- previous
	}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrHookStopped
	}
	select {
	case tx.previous = <-applied:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHookStopped
	}

	err := call()
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", h.tenantID).Msg("Notification action failed")
		h.dispatch(ctx, func(s *State) {
			if h.compensate {
				tx.compensate(s, tx.previous)
			}
			s.Err = err
		})
	}
	h.requestRefresh()
	return err
}

func (h *Hook) onNew(env realtime.Envelope) {
	var n models.Notification
	if err := env.Decode(&n); err != nil {
		log.Warn().Err(err).Msg("Malformed new-notification event")
		return
	}
	if n.TenantID != "" && n.TenantID != h.tenantID {
		return
	}
	if h.userID != "" && n.UserID != "" && n.UserID != h.userID {
		return
	}

	h.dispatch(context.Background(), func(s *State) {
		if indexOf(s.Notifications, n.ID) >= 0 {
			return
		}
		s.Notifications = append([]models.Notification{n}, s.Notifications...)
		if counts(n) {
			s.UnreadCount++
		}
	})

	if err := h.conn.Emit(realtime.EventNotificationReceived, realtime.AckData{NotificationID: n.ID}); err != nil {
		log.Debug().Err(err).Str("notification_id", n.ID).Msg("Failed to acknowledge notification")
	}
}

func (h *Hook) onUpdated(env realtime.Envelope) {
	var st models.NotificationState
	if err := env.Decode(&st); err != nil {
		log.Warn().Err(err).Msg("Malformed notification-updated event")
		return
	}
	h.dispatch(context.Background(), func(s *State) {
		i := indexOf(s.Notifications, st.ID)
		if i < 0 {
			return
		}
		before := counts(s.Notifications[i])
		s.Notifications[i].IsRead = st.IsRead
		s.Notifications[i].IsDismissed = st.IsDismissed
		switch after := counts(s.Notifications[i]); {
		case before && !after:
			s.UnreadCount = max(s.UnreadCount-1, 0)
		case !before && after:
			s.UnreadCount++
		}
	})
}

func (h *Hook) onMarkedRead(env realtime.Envelope) {
	var mr models.MarkedRead
	if len(env.Data) > 0 {
		if err := env.Decode(&mr); err != nil {
			log.Warn().Err(err).Msg("Malformed notifications-marked-read event")
			return
		}
	}
	if mr.UserID != "" && mr.UserID != h.userID {
		return
	}
	h.dispatch(context.Background(), markAllRead)
}

func (h *Hook) onStateChange(connected bool) {
	h.dispatch(context.Background(), func(s *State) { s.Connected = connected })
	if connected {
		// pushes are not replayed, so catch up on anything missed while away
		h.requestRefresh()
	}
}

// dispatch queues fn for the Run goroutine. It reports false if the hook has
// stopped or ctx ended first.
func (h *Hook) dispatch(ctx context.Context, fn func(*State)) bool {
	select {
	case h.inbox <- fn:
		return true
	case <-h.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hook) requestRefresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Hook) publish() {
	snap := copyState(h.state)
	h.mu.Lock()
	h.snapshot = snap
	h.mu.Unlock()

	h.subMu.Lock()
	fns := make([]func(State), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()
	for _, fn := range fns {
		fn(copyState(snap))
	}
}

func markAllRead(s *State) {
	for i := range s.Notifications {
		s.Notifications[i].IsRead = true
	}
	s.UnreadCount = 0
}

// restoreEntries puts the listed entries back as they were in previous and
// re-derives the unread count from the difference.
func restoreEntries(ids ...string) func(s *State, previous State) {
	return func(s *State, previous State) {
		for _, id := range ids {
			i := indexOf(s.Notifications, id)
			j := indexOf(previous.Notifications, id)
			if i < 0 || j < 0 {
				continue
			}
			was, now := counts(previous.Notifications[j]), counts(s.Notifications[i])
			s.Notifications[i].IsRead = previous.Notifications[j].IsRead
			s.Notifications[i].IsDismissed = previous.Notifications[j].IsDismissed
			switch {
			case was && !now:
				s.UnreadCount++
			case !was && now:
				s.UnreadCount = max(s.UnreadCount-1, 0)
			}
		}
	}
}

// counts reports whether n contributes to the unread count.
func counts(n models.Notification) bool {
	return !n.IsRead && !n.IsDismissed
}

func indexOf(list []models.Notification, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func idsOf(list []models.Notification) []string {
	ids := make([]string, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	return ids
}

func copyState(s State) State {
	out := s
	if s.Notifications != nil {
		out.Notifications = make([]models.Notification, len(s.Notifications))
		copy(out.Notifications, s.Notifications)
	}
	return out
}
