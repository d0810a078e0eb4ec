package models

type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeSuccess NotificationType = "success"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
	TypeOrder   NotificationType = "order"
	TypePayment NotificationType = "payment"
	TypeSystem  NotificationType = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is owned by exactly one tenant. An empty UserID means the
// notification is addressed to the whole tenant.
type Notification struct {
	ID          string           `json:"id" db:"id"`
	TenantID    string           `json:"tenantId" db:"tenant_id"`
	UserID      string           `json:"userId,omitempty" db:"user_id"`
	Title       string           `json:"title" db:"title"`
	Message     string           `json:"message" db:"message"`
	Type        NotificationType `json:"type" db:"type"`
	Priority    Priority         `json:"priority" db:"priority"`
	IsRead      bool             `json:"isRead" db:"is_read"`
	IsDismissed bool             `json:"isDismissed" db:"is_dismissed"`
	ActionURL   string           `json:"actionUrl,omitempty" db:"action_url"`
	ActionText  string           `json:"actionText,omitempty" db:"action_text"`
	EntityType  string           `json:"entityType,omitempty" db:"entity_type"`
	EntityID    string           `json:"entityId,omitempty" db:"entity_id"`
	Metadata    Metadata         `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   int64            `json:"createdAt" db:"created_at"`
	UpdatedAt   int64            `json:"updatedAt" db:"updated_at"`
	ExpiresAt   *int64           `json:"expiresAt,omitempty" db:"expires_at"`
}

// Expired reports whether the display cutoff has passed at nowMillis.
func (n *Notification) Expired(nowMillis int64) bool {
	return n.ExpiresAt != nil && *n.ExpiresAt <= nowMillis
}

// NotificationState is the payload of a notification-updated event.
type NotificationState struct {
	ID          string `json:"id"`
	IsRead      bool   `json:"isRead"`
	IsDismissed bool   `json:"isDismissed"`
}

// MarkedRead is the payload of a notifications-marked-read event.
type MarkedRead struct {
	Count  int64  `json:"count"`
	UserID string `json:"userId,omitempty"`
}

// DashboardRefresh is the payload of a dashboard-refresh event.
type DashboardRefresh struct {
	Type string `json:"type"`
}
