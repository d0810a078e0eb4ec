package handlers

import (
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bizdash/internal/pkg/errors"
	"bizdash/internal/pkg/validator"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

type AuthHandler struct {
	users    *repositories.UserRepository
	tenants  *repositories.TenantRepository
	tokenSvc *auth.TokenService
}

func NewAuthHandler(users *repositories.UserRepository, tenants *repositories.TenantRepository, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{
		users:    users,
		tenants:  tenants,
		tokenSvc: tokenSvc,
	}
}

type RegisterRequest struct {
	TenantName string `json:"tenantName" validate:"required,max=100"`
	TenantSlug string `json:"tenantSlug,omitempty" validate:"omitempty,max=60"`
	Currency   string `json:"currency,omitempty" validate:"omitempty,len=3"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	FullName   string `json:"fullName" validate:"max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	User        *models.User   `json:"user"`
	Tenant      *models.Tenant `json:"tenant"`
	AccessToken string         `json:"accessToken"`
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Register creates a tenant and its owner in one transaction.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	var req RegisterRequest
	if err := validator.DecodeJSON(body, &req); err != nil {
		errors.WriteErr(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "User already exists", nil)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	slug := slugify(req.TenantSlug)
	if slug == "" {
		slug = slugify(req.TenantName)
	}
	tenant := &models.Tenant{
		Slug:     slug,
		Name:     req.TenantName,
		Currency: strings.ToUpper(req.Currency),
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: hashed,
		FullName:     req.FullName,
		Role:         models.RoleOwner,
	}

	tx, err := h.tenants.BeginTx(r.Context())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	defer tx.Rollback()

	if err := h.tenants.CreateTx(r.Context(), tx, tenant); err != nil {
		if database.IsUniqueViolation(err) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Tenant slug already taken", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create tenant", nil)
		return
	}
	user.TenantID = tenant.ID
	if err := h.users.CreateTx(r.Context(), tx, user); err != nil {
		if database.IsUniqueViolation(err) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "User already exists", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}
	if err := tx.Commit(); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(user.ID, tenant.ID, user.Role, user.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	log.Info().Str("tenant_id", tenant.ID).Str("user_id", user.ID).Msg("Tenant registered")
	writeJSON(w, http.StatusCreated, AuthResponse{User: user, Tenant: tenant, AccessToken: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	var req LoginRequest
	if err := validator.DecodeJSON(body, &req); err != nil {
		errors.WriteErr(w, err)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid email or password", nil)
		return
	}

	tenant, err := h.tenants.GetByID(r.Context(), user.TenantID)
	if err != nil || tenant == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load tenant", nil)
		return
	}

	now := time.Now().UnixMilli()
	if err := h.users.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	} else {
		user.LastLoginAt = &now
	}

	token, err := h.tokenSvc.GenerateAccessToken(user.ID, tenant.ID, user.Role, user.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{User: user, Tenant: tenant, AccessToken: token})
}
