package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittorpc/pkg/server"
)

// ApplicationHandler manages per-application engine state.
type ApplicationHandler struct {
	srv *server.Server
}

// NewApplicationHandler creates an application handler.
func NewApplicationHandler(srv *server.Server) *ApplicationHandler {
	return &ApplicationHandler{srv: srv}
}

// EvictResponse reports an eviction.
type EvictResponse struct {
	Application      string `json:"application"`
	SecurityManagers int    `json:"security_managers"`
}

// Evict handles POST /api/v1/applications/{name}/evict. Cached security
// managers and the shared application object are dropped and rebuilt on
// next use.
func (h *ApplicationHandler) Evict(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n := h.srv.EvictApplication(r.Context(), name)
	WriteJSONOK(w, EvictResponse{Application: name, SecurityManagers: n})
}
