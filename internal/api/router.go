package api

import (
	"context"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/julienschmidt/httprouter"

	apiContext "bizdash/internal/api/context"
	"bizdash/internal/api/handlers"
	"bizdash/internal/api/middleware"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/config"
	"bizdash/internal/platform/models"
)

type Dependencies struct {
	AuthHandler         *handlers.AuthHandler
	WebhookHandler      *handlers.WebhookHandler
	SettingsHandler     *handlers.WebhookSettingsHandler
	NotificationHandler *handlers.NotificationHandler
	RealtimeHandler     *handlers.RealtimeHandler
	AuditHandler        *handlers.AuditHandler
	HealthHandler       *handlers.HealthHandler
	MetricsHandler      *handlers.MetricsHandler
	AuthMiddleware      *middleware.AuthMiddleware
	TenantMiddleware    *middleware.TenantMiddleware
	WebhookLimiter      *middleware.RateLimiter
	APILimiter          *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Authentication routes
	router.POST("/api/auth/register", wrap(deps.AuthHandler.Register))
	router.POST("/api/auth/login", wrap(deps.AuthHandler.Login))

	// Public webhook ingestion, authenticated by body signature
	ipLimit := deps.WebhookLimiter.ByIP
	router.GET("/api/webhooks/health", wrap(deps.WebhookHandler.Health))
	router.POST("/api/webhooks/orders", chain(deps.WebhookHandler.Orders, ipLimit))
	router.POST("/api/webhooks/payments", chain(deps.WebhookHandler.Payments, ipLimit))
	router.POST("/api/webhooks/notifications", chain(deps.WebhookHandler.Notifications, ipLimit))

	// Middleware references
	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	tenantLimit := deps.APILimiter.ByTenant

	// Webhook settings
	router.GET("/api/webhooks/settings",
		chain(deps.SettingsHandler.Get, authMid.Handle, tenantMid.Handle, tenantLimit))
	router.PUT("/api/webhooks/settings",
		chain(deps.SettingsHandler.Update, authMid.Handle, tenantMid.Handle, tenantLimit, requireRole(models.RoleAdmin, models.RoleOwner)))
	router.POST("/api/webhooks/settings/generate-secret",
		chain(deps.SettingsHandler.GenerateSecret, authMid.Handle, tenantMid.Handle, tenantLimit, requireRole(models.RoleAdmin, models.RoleOwner)))

	// Notifications
	router.GET("/api/notifications",
		chain(deps.NotificationHandler.List, authMid.Handle, tenantMid.Handle, tenantLimit))
	router.GET("/api/notifications/count",
		chain(deps.NotificationHandler.Count, authMid.Handle, tenantMid.Handle, tenantLimit))
	router.POST("/api/notifications/mark-all-read",
		chain(deps.NotificationHandler.MarkAllRead, authMid.Handle, tenantMid.Handle, tenantLimit))
	router.PATCH("/api/notifications/:id",
		chain(deps.NotificationHandler.Update, authMid.Handle, tenantMid.Handle, tenantLimit))

	// Audit trail
	router.GET("/api/audit",
		chain(deps.AuditHandler.List, authMid.Handle, tenantMid.Handle, requireRole(models.RoleAdmin, models.RoleOwner)))

	// Realtime
	router.GET("/api/realtime",
		chain(deps.RealtimeHandler.Connect, authMid.HandleWebsocket, tenantMid.Handle))

	return router
}

// NewHandler wraps the router with CORS and request logging.
func NewHandler(deps *Dependencies, cfg config.CORSConfig) http.Handler {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: cfg.AllowedMethods,
		AllowedHeaders: cfg.AllowedHeaders,
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         cfg.MaxAge,
	})
	return middleware.RequestLogger(corsHandler(NewRouter(deps)))
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
				return
			}

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
