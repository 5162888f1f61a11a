package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittorpc/internal/logger"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/marmos91/dittorpc/pkg/session"
)

// SessionHandler exposes the session registry.
type SessionHandler struct {
	srv *server.Server
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(srv *server.Server) *SessionHandler {
	return &SessionHandler{srv: srv}
}

// List handles GET /api/v1/sessions. The optional application query
// parameter filters by application.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("application")

	infos := h.srv.SessionInfos()
	out := make([]session.Info, 0, len(infos))
	for _, info := range infos {
		if app == "" || info.Application == app {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	WriteJSONOK(w, out)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := h.srv.SessionInfo(id)
	if !ok {
		NotFound(w, "session not found")
		return
	}
	WriteJSONOK(w, info)
}

// Destroy handles DELETE /api/v1/sessions/{id}. Destroying a master
// destroys its sub sessions.
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.srv.DestroySession(r.Context(), id); err != nil {
		switch {
		case rpcerrors.IsUnknownSession(err):
			NotFound(w, "session not found")
		case rpcerrors.IsSessionExpired(err):
			Gone(w, "session expired")
		default:
			InternalServerError(w, err.Error())
		}
		return
	}
	logger.InfoCtx(r.Context(), "Session destroyed by administrator", logger.SessionID(id))
	WriteNoContent(w)
}
