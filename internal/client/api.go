// Package client is the consumer side of the notification pipeline: a REST
// client for the session API, a reconnecting realtime connection and a hook
// that reconciles both into one view of a user's notifications.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"bizdash/internal/engine/notifications"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/models"
)

// NotificationsAPI is the subset of the session API the hook needs.
type NotificationsAPI interface {
	List(ctx context.Context, opts ListOptions) ([]models.Notification, error)
	Count(ctx context.Context, userID string) (int64, error)
	Update(ctx context.Context, id string, in notifications.UpdateInput) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

var _ NotificationsAPI = (*API)(nil)

type ListOptions struct {
	UserID           string
	IncludeRead      *bool
	IncludeDismissed *bool
	Limit            int
}

// APIError is a non-2xx answer decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// API talks to the notifications endpoints with a bearer token.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken replaces the bearer token, e.g. after Login.
func (a *API) SetToken(token string) {
	a.token = token
}

func (a *API) List(ctx context.Context, opts ListOptions) ([]models.Notification, error) {
	q := url.Values{}
	if opts.UserID != "" {
		q.Set("userId", opts.UserID)
	}
	if opts.IncludeRead != nil {
		q.Set("includeRead", strconv.FormatBool(*opts.IncludeRead))
	}
	if opts.IncludeDismissed != nil {
		q.Set("includeDismissed", strconv.FormatBool(*opts.IncludeDismissed))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/notifications", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return resp.Notifications, nil
}

func (a *API) Count(ctx context.Context, userID string) (int64, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/notifications/count", q, nil, &resp); err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return resp.Count, nil
}

func (a *API) Update(ctx context.Context, id string, in notifications.UpdateInput) (*models.Notification, error) {
	var n models.Notification
	if err := a.do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id), nil, in, &n); err != nil {
		return nil, fmt.Errorf("updating notification %s: %w", id, err)
	}
	return &n, nil
}

func (a *API) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	body := map[string]string{}
	if userID != "" {
		body["userId"] = userID
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/notifications/mark-all-read", nil, body, &resp); err != nil {
		return 0, fmt.Errorf("marking all read: %w", err)
	}
	return resp.Count, nil
}

// Login exchanges credentials for an access token and stores it on a.
func (a *API) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", nil, in, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	a.token = resp.AccessToken
	return resp.AccessToken, nil
}

func (a *API) do(ctx context.Context, method, path string, q url.Values, in, out interface{}) error {
	fullURL := a.baseURL + path
	if len(q) > 0 {
		fullURL += "?" + q.Encode()
	}

	body := io.Reader(http.NoBody)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope errors.ErrorResponse
		if data, err := io.ReadAll(resp.Body); err == nil && json.Unmarshal(data, &envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Identity reads the tenant and user a token was issued for. The signature
// is not checked; the server does that on every call.
func Identity(token string) (tenantID, userID string, err error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", "", fmt.Errorf("parsing token: %w", err)
	}
	if claims.TenantID == "" {
		return "", "", fmt.Errorf("token carries no tenant")
	}
	return claims.TenantID, claims.UserID, nil
}

// WebsocketURL derives the realtime endpoint from the API base URL.
func WebsocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
