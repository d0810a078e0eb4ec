package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
)

type HealthHandler struct {
	db       *sqlx.DB
	realtime interface{ ClientCount() int }
}

func NewHealthHandler(db *sqlx.DB, realtime interface{ ClientCount() int }) *HealthHandler {
	return &HealthHandler{db: db, realtime: realtime}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	status := "healthy"
	for _, check := range checks {
		if len(check) >= 9 && check[:9] == "unhealthy" {
			status = "degraded"
			break
		}
	}

	response := struct {
		Status           string            `json:"status"`
		Timestamp        int64             `json:"timestamp"`
		Checks           map[string]string `json:"checks"`
		RealtimeSessions int               `json:"realtimeSessions"`
	}{
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
		Checks:    checks,
	}
	if h.realtime != nil {
		response.RealtimeSessions = h.realtime.ClientCount()
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
