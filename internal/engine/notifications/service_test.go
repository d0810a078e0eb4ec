package notifications

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"bizdash/internal/engine/realtime"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/models"
)

type published struct {
	tenantID string
	event    realtime.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, tenantID string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{tenantID: tenantID, event: event})
	return p.err
}

func (p *fakePublisher) ofType(eventType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeForwarder struct {
	got []*models.Notification
}

func (f *fakeForwarder) NotificationCreated(ctx context.Context, n *models.Notification) {
	f.got = append(f.got, n)
}

func setup(t *testing.T, tenants ...string) (*Service, *fakePublisher, *sqlx.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, id := range tenants {
		if _, err := db.Exec(`INSERT INTO tenants (id, slug, name, created_at, updated_at) VALUES (?, ?, ?, 0, 0)`, id, id, id); err != nil {
			t.Fatalf("insert tenant: %v", err)
		}
	}

	pub := &fakePublisher{}
	svc := NewService(NewRepository(db), pub, nil)

	// strictly increasing clock so createdAt ordering is deterministic
	base := time.UnixMilli(1_700_000_000_000)
	var tick int64
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return svc, pub, db
}

func input(tenantID, title string) CreateInput {
	return CreateInput{
		TenantID: tenantID,
		Title:    title,
		Message:  title + " message",
		Type:     models.TypeInfo,
		Priority: models.PriorityMedium,
	}
}

func TestService_Create(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a")
	fwd := &fakeForwarder{}
	svc.forwarder = fwd
	ctx := context.Background()

	in := input("tnt_a", "New order")
	in.Metadata = models.Metadata{"orderId": "ord_1"}
	n, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n.ID == "" || n.IsRead || n.IsDismissed {
		t.Errorf("Create() = %+v", n)
	}

	events := pub.ofType(realtime.EventNewNotification)
	if len(events) != 1 || events[0].tenantID != "tnt_a" {
		t.Fatalf("new-notification events = %+v", events)
	}
	if got := events[0].event.Data.(*models.Notification); got.ID != n.ID {
		t.Errorf("event carries %s, want %s", got.ID, n.ID)
	}
	if len(fwd.got) != 1 {
		t.Errorf("forwarder called %d times, want 1", len(fwd.got))
	}

	stored, err := svc.repo.GetByID(ctx, "tnt_a", n.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID() = %v, %v", stored, err)
	}
	if stored.Metadata["orderId"] != "ord_1" {
		t.Errorf("metadata = %v", stored.Metadata)
	}
}

func TestService_Create_Invalid(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a")
	ctx := context.Background()

	tests := []struct {
		name  string
		mut   func(*CreateInput)
		field string
	}{
		{"missing title", func(in *CreateInput) { in.Title = "" }, "title"},
		{"bad type", func(in *CreateInput) { in.Type = "alert" }, "type"},
		{"bad priority", func(in *CreateInput) { in.Priority = "critical" }, "priority"},
		{"missing tenant", func(in *CreateInput) { in.TenantID = "" }, "tenantId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input("tnt_a", "x")
			tt.mut(&in)
			_, err := svc.Create(ctx, in)

			var verr *errors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			found := false
			for _, f := range verr.FieldNames() {
				if f == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("violations %v do not name %s", verr.FieldNames(), tt.field)
			}
		})
	}

	if n, _ := svc.Count(ctx, "tnt_a", ""); n != 0 {
		t.Errorf("Count() = %d after rejected creates", n)
	}
	if len(pub.events) != 0 {
		t.Errorf("published %d events for rejected creates", len(pub.events))
	}
}

func TestService_Create_PublishFailureKeepsRecord(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a")
	pub.err = &errors.TransientDeliveryError{Op: "publish", Err: stderrors.New("hub down")}
	ctx := context.Background()

	n, err := svc.Create(ctx, input("tnt_a", "Still here"))
	if err != nil {
		t.Fatalf("Create() error = %v, want nil on broadcast failure", err)
	}
	stored, _ := svc.repo.GetByID(ctx, "tnt_a", n.ID)
	if stored == nil {
		t.Error("notification not persisted")
	}
}

func TestService_MarkAsRead_Idempotent(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a")
	ctx := context.Background()
	n, _ := svc.Create(ctx, input("tnt_a", "One"))

	for i := 0; i < 2; i++ {
		got, err := svc.MarkAsRead(ctx, "tnt_a", n.ID)
		if err != nil {
			t.Fatalf("MarkAsRead() #%d error = %v", i+1, err)
		}
		if !got.IsRead || got.IsDismissed {
			t.Errorf("MarkAsRead() #%d = %+v", i+1, got)
		}
	}

	stored, _ := svc.repo.GetByID(ctx, "tnt_a", n.ID)
	if !stored.IsRead {
		t.Error("stored isRead = false")
	}
	if c, _ := svc.Count(ctx, "tnt_a", ""); c != 0 {
		t.Errorf("Count() = %d, want 0", c)
	}

	updates := pub.ofType(realtime.EventNotificationUpdated)
	if len(updates) != 2 {
		t.Fatalf("notification-updated events = %d, want 2", len(updates))
	}
	state := updates[1].event.Data.(models.NotificationState)
	if state.ID != n.ID || !state.IsRead {
		t.Errorf("event state = %+v", state)
	}
}

func TestService_Dismiss_HiddenByDefault(t *testing.T) {
	svc, _, _ := setup(t, "tnt_a")
	ctx := context.Background()
	kept, _ := svc.Create(ctx, input("tnt_a", "Keep"))
	gone, _ := svc.Create(ctx, input("tnt_a", "Gone"))

	if _, err := svc.Dismiss(ctx, "tnt_a", gone.ID); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}

	list, err := svc.List(ctx, ListQuery{TenantID: "tnt_a"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Errorf("default List() = %v, want only %s", ids(list), kept.ID)
	}

	include := true
	all, _ := svc.List(ctx, ListQuery{TenantID: "tnt_a", IncludeDismissed: &include})
	if len(all) != 2 {
		t.Errorf("List(includeDismissed) returned %d, want 2", len(all))
	}

	// dismissing does not mark read, but it leaves the unread count
	stored, _ := svc.repo.GetByID(ctx, "tnt_a", gone.ID)
	if stored.IsRead {
		t.Error("dismiss changed isRead")
	}
	if c, _ := svc.Count(ctx, "tnt_a", ""); c != 1 {
		t.Errorf("Count() = %d, want 1", c)
	}
}

func TestService_CrossTenantMutation(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a", "tnt_b")
	ctx := context.Background()
	n, _ := svc.Create(ctx, input("tnt_a", "Private"))
	before := len(pub.events)

	ops := map[string]func() error{
		"markAsRead": func() error { _, err := svc.MarkAsRead(ctx, "tnt_b", n.ID); return err },
		"dismiss":    func() error { _, err := svc.Dismiss(ctx, "tnt_b", n.ID); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var nf *errors.NotFoundError
			if err := op(); !stderrors.As(err, &nf) {
				t.Errorf("error = %v, want NotFoundError", err)
			}
		})
	}

	stored, _ := svc.repo.GetByID(ctx, "tnt_a", n.ID)
	if stored.IsRead || stored.IsDismissed {
		t.Errorf("foreign tenant mutated notification: %+v", stored)
	}
	if len(pub.events) != before {
		t.Error("events published for a rejected mutation")
	}
	if list, _ := svc.List(ctx, ListQuery{TenantID: "tnt_b"}); len(list) != 0 {
		t.Errorf("tenant b sees %d notifications", len(list))
	}
}

func TestService_MarkAllAsRead(t *testing.T) {
	svc, pub, _ := setup(t, "tnt_a", "tnt_b")
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		svc.Create(ctx, input("tnt_a", title))
	}
	svc.Create(ctx, input("tnt_b", "other"))

	count, err := svc.MarkAllAsRead(ctx, "tnt_a", "")
	if err != nil {
		t.Fatalf("MarkAllAsRead() error = %v", err)
	}
	if count != 3 {
		t.Errorf("MarkAllAsRead() = %d, want 3", count)
	}
	if c, _ := svc.Count(ctx, "tnt_a", ""); c != 0 {
		t.Errorf("Count(tnt_a) = %d, want 0", c)
	}
	if c, _ := svc.Count(ctx, "tnt_b", ""); c != 1 {
		t.Errorf("Count(tnt_b) = %d, want 1", c)
	}

	events := pub.ofType(realtime.EventNotificationsMarkedRead)
	if len(events) != 1 {
		t.Fatalf("notifications-marked-read events = %d, want 1", len(events))
	}
	if data := events[0].event.Data.(models.MarkedRead); data.Count != 3 || data.UserID != "" {
		t.Errorf("event data = %+v", data)
	}

	again, _ := svc.MarkAllAsRead(ctx, "tnt_a", "")
	if again != 0 {
		t.Errorf("second MarkAllAsRead() = %d, want 0", again)
	}
}

func TestService_UserAudience(t *testing.T) {
	svc, _, _ := setup(t, "tnt_a")
	ctx := context.Background()

	mine := input("tnt_a", "mine")
	mine.UserID = "usr_1"
	theirs := input("tnt_a", "theirs")
	theirs.UserID = "usr_2"
	svc.Create(ctx, mine)
	svc.Create(ctx, theirs)
	svc.Create(ctx, input("tnt_a", "everyone"))

	list, _ := svc.List(ctx, ListQuery{TenantID: "tnt_a", UserID: "usr_1"})
	if got := titles(list); len(got) != 2 || got[0] != "everyone" || got[1] != "mine" {
		t.Errorf("List(usr_1) = %v, want [everyone mine]", got)
	}

	if c, _ := svc.Count(ctx, "tnt_a", "usr_1"); c != 2 {
		t.Errorf("Count(usr_1) = %d, want 2", c)
	}

	count, _ := svc.MarkAllAsRead(ctx, "tnt_a", "usr_1")
	if count != 2 {
		t.Errorf("MarkAllAsRead(usr_1) = %d, want 2", count)
	}
	if c, _ := svc.Count(ctx, "tnt_a", "usr_2"); c != 1 {
		t.Errorf("Count(usr_2) = %d, want 1", c)
	}
}

func TestService_ListExpiryAndLimit(t *testing.T) {
	svc, _, _ := setup(t, "tnt_a")
	ctx := context.Background()

	past := int64(1)
	expired := input("tnt_a", "expired")
	expired.ExpiresAt = &past
	svc.Create(ctx, expired)
	for i := 0; i < 3; i++ {
		svc.Create(ctx, input("tnt_a", "live"))
	}

	list, _ := svc.List(ctx, ListQuery{TenantID: "tnt_a"})
	if len(list) != 3 {
		t.Errorf("List() returned %d, want 3 (expired excluded)", len(list))
	}
	if c, _ := svc.Count(ctx, "tnt_a", ""); c != 3 {
		t.Errorf("Count() = %d, want 3", c)
	}

	limited, _ := svc.List(ctx, ListQuery{TenantID: "tnt_a", Limit: 2})
	if len(limited) != 2 {
		t.Errorf("List(limit 2) returned %d", len(limited))
	}
	if limited[0].CreatedAt < limited[1].CreatedAt {
		t.Error("List() not ordered newest first")
	}

	read := false
	if _, err := svc.MarkAsRead(ctx, "tnt_a", list[0].ID); err != nil {
		t.Fatal(err)
	}
	unread, _ := svc.List(ctx, ListQuery{TenantID: "tnt_a", IncludeRead: &read})
	if len(unread) != 2 {
		t.Errorf("List(includeRead=false) returned %d, want 2", len(unread))
	}
}

func TestService_Update_RequiresFlag(t *testing.T) {
	svc, _, _ := setup(t, "tnt_a")
	n, _ := svc.Create(context.Background(), input("tnt_a", "x"))

	_, err := svc.Update(context.Background(), "tnt_a", n.ID, UpdateInput{})
	var verr *errors.ValidationError
	if !stderrors.As(err, &verr) {
		t.Errorf("Update(empty) error = %v, want ValidationError", err)
	}
}

func ids(list []*models.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func titles(list []*models.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.Title
	}
	return out
}
