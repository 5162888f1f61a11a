package handlers

import (
	"net/http"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/server"
)

const (
	// ContentTypeFrame is the media type of request and response frames.
	ContentTypeFrame = "application/x-dittorpc"

	// HeaderSession carries the id of the session a response belongs to.
	HeaderSession = "X-DittoRPC-Session"

	// DefaultMaxFrameSize bounds request bodies when no limit is given.
	DefaultMaxFrameSize = 32 << 20
)

// RPCHandler carries request frames to the engine. Every request gets a
// 200 response holding exactly one response frame; protocol failures are
// encoded in the frame.
type RPCHandler struct {
	srv          *server.Server
	maxFrameSize int64
}

// NewRPCHandler creates the handler of POST /services/rpc.
func NewRPCHandler(srv *server.Server, maxFrameSize int64) *RPCHandler {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &RPCHandler{srv: srv, maxFrameSize: maxFrameSize}
}

// Serve handles POST /services/rpc.
func (h *RPCHandler) Serve(w http.ResponseWriter, r *http.Request) {
	req := server.Request{
		Body:       http.MaxBytesReader(w, r.Body, h.maxFrameSize),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := h.srv.Serve(r.Context(), req, &frameWriter{w: w}); err != nil {
		logger.DebugCtx(r.Context(), "Response frame not delivered", logger.Err(err))
	}
}

// frameWriter maps response properties to headers. Headers are sent with
// the first write, after the engine has set every property.
type frameWriter struct {
	w      http.ResponseWriter
	header bool
}

func (f *frameWriter) SetProperty(key, value string) {
	if key == server.PropertySession {
		f.w.Header().Set(HeaderSession, value)
	}
}

func (f *frameWriter) Write(p []byte) (int, error) {
	if !f.header {
		f.header = true
		f.w.Header().Set("Content-Type", ContentTypeFrame)
		f.w.WriteHeader(http.StatusOK)
	}
	return f.w.Write(p)
}
