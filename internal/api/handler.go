// Package api provides HTTP handlers for the tojvs API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/kinbanker/tojvs-new/internal/auth"
	"github.com/kinbanker/tojvs-new/internal/config"
	"github.com/kinbanker/tojvs-new/internal/registry"
	"github.com/kinbanker/tojvs-new/internal/relay"
	"github.com/kinbanker/tojvs-new/internal/store"
)

// Handler provides the REST surface around the realtime core.
type Handler struct {
	repo    store.Repository
	tokens  *auth.Service
	reg     *registry.Registry
	pending *registry.PendingTable
	router  *relay.Router
	cfg     *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, tokens *auth.Service, reg *registry.Registry, pending *registry.PendingTable, router *relay.Router, cfg *config.Config) *Handler {
	return &Handler{
		repo:    repo,
		tokens:  tokens,
		reg:     reg,
		pending: pending,
		router:  router,
		cfg:     cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
