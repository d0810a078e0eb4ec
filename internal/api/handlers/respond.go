package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	apiContext "bizdash/internal/api/context"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func param(r *http.Request, name string) string {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return ps.ByName(name)
}
