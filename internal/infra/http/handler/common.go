// Package handler implements the status server endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/vigilis/sentinel/internal/infra/http/middleware"
	"github.com/vigilis/sentinel/pkg/apierror"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err *apierror.Error) {
	err.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
}

// NotFound renders unknown routes as a JSON 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierror.NotFound("Route"))
}

// MethodNotAllowed renders a JSON 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierror.MethodNotAllowed())
}
