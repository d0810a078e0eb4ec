package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"bizdash/internal/engine/realtime"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/metrics"
	"bizdash/internal/pkg/validator"
	"bizdash/internal/platform/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Forwarder receives every notification after it is committed, e.g. to call
// tenant callback URLs. It must not block.
type Forwarder interface {
	NotificationCreated(ctx context.Context, n *models.Notification)
}

type CreateInput struct {
	TenantID   string                  `json:"tenantId" validate:"required"`
	UserID     string                  `json:"userId,omitempty"`
	Title      string                  `json:"title" validate:"required,max=200"`
	Message    string                  `json:"message" validate:"required,max=2000"`
	Type       models.NotificationType `json:"type" validate:"required,oneof=info success warning error order payment system"`
	Priority   models.Priority         `json:"priority" validate:"required,oneof=low medium high urgent"`
	ActionURL  string                  `json:"actionUrl,omitempty" validate:"omitempty,max=2048"`
	ActionText string                  `json:"actionText,omitempty" validate:"omitempty,max=100"`
	EntityType string                  `json:"entityType,omitempty"`
	EntityID   string                  `json:"entityId,omitempty"`
	Metadata   models.Metadata         `json:"metadata,omitempty"`
	ExpiresAt  *int64                  `json:"expiresAt,omitempty"`
}

// UpdateInput carries the flags a PATCH may set. At least one is required.
type UpdateInput struct {
	IsRead      *bool `json:"isRead,omitempty"`
	IsDismissed *bool `json:"isDismissed,omitempty"`
}

type ListQuery struct {
	TenantID         string
	UserID           string
	IncludeRead      *bool
	IncludeDismissed *bool
	Limit            int
}

type Service struct {
	repo      *Repository
	publisher realtime.Publisher
	forwarder Forwarder
	now       func() time.Time
}

func NewService(repo *Repository, publisher realtime.Publisher, forwarder Forwarder) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		forwarder: forwarder,
		now:       time.Now,
	}
}

// Create persists a new unread notification and announces it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Notification, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	n, err := s.CreateTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing notification: %w", err)
	}

	s.Announce(ctx, n)
	return n, nil
}

// CreateTx writes the notification inside the caller's transaction. The
// caller must call Announce after committing.
func (s *Service) CreateTx(ctx context.Context, tx *sqlx.Tx, in CreateInput) (*models.Notification, error) {
	if err := validator.Struct(in); err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	n := &models.Notification{
		TenantID:   in.TenantID,
		UserID:     in.UserID,
		Title:      in.Title,
		Message:    in.Message,
		Type:       in.Type,
		Priority:   in.Priority,
		ActionURL:  in.ActionURL,
		ActionText: in.ActionText,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Metadata:   in.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  in.ExpiresAt,
	}
	if err := s.repo.InsertTx(ctx, tx, n); err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// Announce publishes new-notification to the tenant room and hands the
// record to the forwarder. Failures are logged only.
func (s *Service) Announce(ctx context.Context, n *models.Notification) {
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	s.publish(ctx, n.TenantID, realtime.Event{Type: realtime.EventNewNotification, Data: n})
	if s.forwarder != nil {
		s.forwarder.NotificationCreated(ctx, n)
	}
}

func (s *Service) MarkAsRead(ctx context.Context, tenantID, id string) (*models.Notification, error) {
	read := true
	return s.Update(ctx, tenantID, id, UpdateInput{IsRead: &read})
}

func (s *Service) Dismiss(ctx context.Context, tenantID, id string) (*models.Notification, error) {
	dismissed := true
	return s.Update(ctx, tenantID, id, UpdateInput{IsDismissed: &dismissed})
}

// Update sets the given flags on a notification owned by tenantID and
// publishes notification-updated. Setting a flag to its current value is a
// no-op apart from the event.
func (s *Service) Update(ctx context.Context, tenantID, id string, in UpdateInput) (*models.Notification, error) {
	if in.IsRead == nil && in.IsDismissed == nil {
		return nil, errors.NewValidationError("body", "isRead or isDismissed is required")
	}

	n, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &errors.NotFoundError{Resource: "notification", ID: id}
	}

	now := s.now().UnixMilli()
	if err := s.repo.SetFlags(ctx, tenantID, id, in.IsRead, in.IsDismissed, now); err != nil {
		return nil, fmt.Errorf("updating notification: %w", err)
	}
	if in.IsRead != nil {
		n.IsRead = *in.IsRead
	}
	if in.IsDismissed != nil {
		n.IsDismissed = *in.IsDismissed
	}
	n.UpdatedAt = now

	s.publish(ctx, tenantID, realtime.Event{
		Type: realtime.EventNotificationUpdated,
		Data: models.NotificationState{ID: n.ID, IsRead: n.IsRead, IsDismissed: n.IsDismissed},
	})
	return n, nil
}

// MarkAllAsRead marks every unread notification for userID (plus tenant-wide
// ones), or for the whole tenant when userID is empty. One event carries the
// count.
func (s *Service) MarkAllAsRead(ctx context.Context, tenantID, userID string) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, tenantID, userID, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	s.publish(ctx, tenantID, realtime.Event{
		Type: realtime.EventNotificationsMarkedRead,
		Data: models.MarkedRead{Count: count, UserID: userID},
	})
	return count, nil
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]*models.Notification, error) {
	f := ListFilter{
		TenantID:         q.TenantID,
		UserID:           q.UserID,
		IncludeRead:      true,
		IncludeDismissed: false,
		Limit:            q.Limit,
		Now:              s.now().UnixMilli(),
	}
	if q.IncludeRead != nil {
		f.IncludeRead = *q.IncludeRead
	}
	if q.IncludeDismissed != nil {
		f.IncludeDismissed = *q.IncludeDismissed
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return s.repo.List(ctx, f)
}

func (s *Service) Count(ctx context.Context, tenantID, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, tenantID, userID, s.now().UnixMilli())
}

// Publish is exposed for events that do not change a notification, such as
// dashboard-refresh.
func (s *Service) Publish(ctx context.Context, tenantID string, event realtime.Event) {
	s.publish(ctx, tenantID, event)
}

func (s *Service) publish(ctx context.Context, tenantID string, event realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, tenantID, event); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("event", event.Type).Msg("Realtime publish failed")
	}
}
