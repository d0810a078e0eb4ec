package handlers

import (
	"net/http"

	"bizdash/internal/api/middleware"
	"bizdash/internal/engine/realtime"
)

type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Connect upgrades the session to a websocket. The client still has to send
// join-tenant, and may only join the tenant in its token.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	h.hub.ServeWS(w, r, realtime.Identity{
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
	})
}
