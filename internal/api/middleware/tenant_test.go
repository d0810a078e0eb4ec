package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	apiContext "bizdash/internal/api/context"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/repositories"
)

func TestTenantMiddleware(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	tenants := repositories.NewTenantRepository(sqlx.NewDb(db, "sqlmock"))
	middleware := NewTenantMiddleware(tenants)

	withClaims := func(tenantID string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := context.WithValue(req.Context(), apiContext.Claims, &auth.Claims{TenantID: tenantID})
		return req.WithContext(ctx)
	}

	t.Run("Valid Tenant", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "slug", "name", "currency", "created_at", "updated_at"}).
			AddRow("tnt_123", "acme", "Acme", "EUR", 1700000000000, 1700000000000)
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id = ?").
			WithArgs("tnt_123").
			WillReturnRows(rows)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			tenant := TenantFrom(r.Context())
			if tenant == nil || tenant.ID != "tnt_123" || tenant.Currency != "EUR" {
				t.Errorf("TenantFrom() = %+v", tenant)
			}
			w.WriteHeader(http.StatusOK)
		})

		handler.ServeHTTP(rr, withClaims("tnt_123"))

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Unknown Tenant", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id = ?").
			WithArgs("tnt_999").
			WillReturnError(sql.ErrNoRows)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, withClaims("tnt_999"))

		if rr.Code != http.StatusNotFound {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
		}
		if !strings.Contains(rr.Body.String(), `"code":"NOT_FOUND"`) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id = ?").
			WithArgs("tnt_123").
			WillReturnError(sql.ErrConnDone)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, withClaims("tnt_123"))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusInternalServerError)
		}
	})

	t.Run("No Claims", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
