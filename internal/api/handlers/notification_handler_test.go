package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"testing"

	"github.com/julienschmidt/httprouter"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/models"
)

func notificationsQuery(tenantID string) notifications.ListQuery {
	return notifications.ListQuery{TenantID: tenantID}
}

func (e *testEnv) seed(t *testing.T, tenantID, userID, title string) *models.Notification {
	t.Helper()
	n, err := e.svc.Create(context.Background(), notifications.CreateInput{
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
		Message:  title + " message",
		Type:     models.TypeInfo,
		Priority: models.PriorityMedium,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return n
}

func (e *testEnv) list(t *testing.T, tenant *models.Tenant, rawQuery string) (int, []*models.Notification) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.notifications.List(rr, sessionRequest(http.MethodGet, "/api/notifications?"+rawQuery, nil, tenant, nil))
	var resp struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	if rr.Code == http.StatusOK {
		decodeBody(t, rr, &resp)
	}
	return rr.Code, resp.Notifications
}

func (e *testEnv) unread(t *testing.T, tenant *models.Tenant) int64 {
	t.Helper()
	rr := httptest.NewRecorder()
	e.notifications.Count(rr, sessionRequest(http.MethodGet, "/api/notifications/count", nil, tenant, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Count() status = %d", rr.Code)
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	decodeBody(t, rr, &resp)
	return resp.Count
}

func (e *testEnv) patch(tenant *models.Tenant, id, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ps := httprouter.Params{{Key: "id", Value: id}}
	e.notifications.Update(rr, sessionRequest(http.MethodPatch, "/api/notifications/"+id, []byte(body), tenant, ps))
	return rr
}

func TestNotificationHandler_List(t *testing.T) {
	e := setupEnv(t)
	first := e.seed(t, e.tenant.ID, "", "Tenant wide")
	e.seed(t, e.tenant.ID, "usr_a", "For A")
	e.seed(t, e.tenant.ID, "usr_b", "For B")
	e.seed(t, e.other.ID, "", "Other tenant")

	if rr := e.patch(e.tenant, first.ID, `{"isRead":true}`); rr.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d", rr.Code)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantTitles []string
	}{
		{"all", "", http.StatusOK, []string{"For A", "For B", "Tenant wide"}},
		{"unread only", "includeRead=false", http.StatusOK, []string{"For A", "For B"}},
		{"user includes tenant wide", "userId=usr_a", http.StatusOK, []string{"For A", "Tenant wide"}},
		{"user unread only", "userId=usr_b&includeRead=false", http.StatusOK, []string{"For B"}},
		{"bad bool", "includeRead=maybe", http.StatusBadRequest, nil},
		{"bad limit", "limit=-1", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, list := e.list(t, e.tenant, tt.query)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if len(list) != len(tt.wantTitles) {
				t.Fatalf("got %d notifications, want %d", len(list), len(tt.wantTitles))
			}
			titles := make([]string, len(list))
			for i, n := range list {
				if n.TenantID != e.tenant.ID {
					t.Errorf("notification %s belongs to %s", n.ID, n.TenantID)
				}
				titles[i] = n.Title
			}
			sort.Strings(titles)
			if !reflect.DeepEqual(titles, tt.wantTitles) {
				t.Errorf("titles = %v, want %v", titles, tt.wantTitles)
			}
		})
	}

	if _, list := e.list(t, e.tenant, "limit=1"); len(list) != 1 {
		t.Errorf("limit=1 returned %d notifications", len(list))
	}
}

func TestNotificationHandler_Update(t *testing.T) {
	e := setupEnv(t)
	n := e.seed(t, e.tenant.ID, "", "Payment received")
	foreign := e.seed(t, e.other.ID, "", "Not yours")

	if got := e.unread(t, e.tenant); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}

	t.Run("mark read is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rr := e.patch(e.tenant, n.ID, `{"isRead":true}`)
			if rr.Code != http.StatusOK {
				t.Fatalf("attempt %d: status = %d", i+1, rr.Code)
			}
			var got models.Notification
			decodeBody(t, rr, &got)
			if !got.IsRead || got.IsDismissed {
				t.Errorf("attempt %d: notification = %+v", i+1, got)
			}
		}
		if got := e.unread(t, e.tenant); got != 0 {
			t.Errorf("unread = %d, want 0", got)
		}
	})

	t.Run("dismiss hides from default listing", func(t *testing.T) {
		if rr := e.patch(e.tenant, n.ID, `{"isDismissed":true}`); rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		if _, list := e.list(t, e.tenant, ""); len(list) != 0 {
			t.Errorf("default listing = %d entries, want 0", len(list))
		}
		if _, list := e.list(t, e.tenant, "includeDismissed=true"); len(list) != 1 {
			t.Errorf("listing with dismissed = %d entries, want 1", len(list))
		}
	})

	t.Run("other tenant is not found", func(t *testing.T) {
		rr := e.patch(e.tenant, foreign.ID, `{"isRead":true}`)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
		stored, err := notifications.NewRepository(e.db).GetByID(context.Background(), e.other.ID, foreign.ID)
		if err != nil || stored == nil || stored.IsRead {
			t.Errorf("foreign notification = %+v, %v; want untouched", stored, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if rr := e.patch(e.tenant, "ntf_missing", `{"isRead":true}`); rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		rr := e.patch(e.tenant, n.ID, `{}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		var resp errors.ErrorResponse
		decodeBody(t, rr, &resp)
		if resp.Code != errors.ErrCodeValidation {
			t.Errorf("code = %q", resp.Code)
		}
	})
}

func TestNotificationHandler_MarkAllRead(t *testing.T) {
	e := setupEnv(t)
	e.seed(t, e.tenant.ID, "", "One")
	e.seed(t, e.tenant.ID, "usr_a", "Two")
	e.seed(t, e.tenant.ID, "usr_b", "Three")
	e.seed(t, e.other.ID, "", "Elsewhere")

	tests := []struct {
		name      string
		body      string
		wantCount int64
		wantLeft  int64
	}{
		{"single user", `{"userId":"usr_a"}`, 2, 1},
		{"whole tenant", ``, 1, 0},
		{"nothing left", `{}`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			e.notifications.MarkAllRead(rr, sessionRequest(http.MethodPost, "/api/notifications/mark-all-read", []byte(tt.body), e.tenant, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
			var resp struct {
				Count int64 `json:"count"`
			}
			decodeBody(t, rr, &resp)
			if resp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
			if got := e.unread(t, e.tenant); got != tt.wantLeft {
				t.Errorf("unread = %d, want %d", got, tt.wantLeft)
			}
		})
	}

	if got := e.unread(t, e.other); got != 1 {
		t.Errorf("other tenant unread = %d, want 1", got)
	}
}
