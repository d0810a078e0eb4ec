package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	apiContext "bizdash/internal/api/context"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

// TenantMiddleware resolves the session's tenant. Handlers read it with
// TenantFrom and never take a tenant id from the request.
type TenantMiddleware struct {
	tenants *repositories.TenantRepository
}

func NewTenantMiddleware(tenants *repositories.TenantRepository) *TenantMiddleware {
	return &TenantMiddleware{tenants: tenants}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		tenant, err := m.tenants.GetByID(r.Context(), claims.TenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", claims.TenantID).Msg("Failed to load tenant")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load tenant", nil)
			return
		}
		if tenant == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Tenant not found", nil)
			return
		}

		if info := requestInfoFrom(r.Context()); info != nil {
			info.TenantID = tenant.ID
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, tenant)
		next(w, r.WithContext(ctx))
	}
}

func TenantFrom(ctx context.Context) *models.Tenant {
	tenant, _ := ctx.Value(apiContext.Tenant).(*models.Tenant)
	return tenant
}

func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(apiContext.Claims).(*auth.Claims)
	return claims
}
