package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/dittorpc/internal/logger"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

const (
	// DefaultPingInterval is used when no ping interval is configured.
	DefaultPingInterval = 30 * time.Second

	pushWriteWait = 10 * time.Second
	pushBacklog   = 64
	pushReadLimit = 512
)

var (
	errPushClosed  = errors.New("push channel closed")
	errPushBacklog = errors.New("push channel backlog full")
)

// PushHandler upgrades GET /services/push?session=<id> to a websocket that
// receives the callback results of the session's master as binary messages,
// each one a response frame without call results.
type PushHandler struct {
	srv          *server.Server
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewPushHandler creates the push handler.
func NewPushHandler(srv *server.Server, pingInterval time.Duration) *PushHandler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &PushHandler{
		srv:          srv,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
		},
	}
}

// Serve handles GET /services/push.
func (h *PushHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		BadRequest(w, "session query parameter is required")
		return
	}

	ctx := r.Context()
	p := &pushConn{
		srv:  h.srv,
		out:  make(chan []wire.Result, pushBacklog),
		done: make(chan struct{}),
	}

	// Register first so an unknown session is reported as a plain HTTP
	// error. Results pushed before the upgrade wait in the backlog.
	sess, err := h.srv.RegisterPush(ctx, id, p)
	if err != nil {
		switch {
		case rpcerrors.IsSessionExpired(err):
			Gone(w, err.Error())
		case rpcerrors.IsUnknownSession(err):
			NotFound(w, err.Error())
		default:
			InternalServerError(w, err.Error())
		}
		return
	}
	p.sess = sess
	defer h.srv.UnregisterPush(sess, p)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.DebugCtx(ctx, "Push upgrade failed", logger.SessionID(id), logger.Err(err))
		p.close()
		return
	}
	defer func() { _ = conn.Close() }()
	p.conn = conn

	logger.DebugCtx(ctx, "Push channel open", logger.SessionID(id))
	go p.readLoop(h.pingInterval)
	p.writeLoop(ctx, h.pingInterval)
	logger.DebugCtx(ctx, "Push channel closed", logger.SessionID(id))
}

// pushConn is the session.PushReceiver of one websocket.
type pushConn struct {
	srv  *server.Server
	sess *session.Session
	conn *websocket.Conn

	out       chan []wire.Result
	done      chan struct{}
	closeOnce sync.Once
}

// Push implements session.PushReceiver. It never blocks: a full backlog is
// rejected so the results stay queued for polling.
func (p *pushConn) Push(_ context.Context, results []wire.Result) error {
	select {
	case <-p.done:
		return errPushClosed
	default:
	}
	select {
	case p.out <- results:
		return nil
	default:
		return errPushBacklog
	}
}

func (p *pushConn) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// readLoop discards client messages and tracks pongs. It ends the channel
// when the client goes away.
func (p *pushConn) readLoop(pingInterval time.Duration) {
	defer p.close()

	wait := pingInterval * 2
	p.conn.SetReadLimit(pushReadLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(wait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Push channel read failed", logger.Err(err))
			}
			return
		}
	}
}

func (p *pushConn) writeLoop(ctx context.Context, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer p.close()

	for {
		select {
		case results := <-p.out:
			body, err := p.srv.EncodePush(p.sess, results)
			if err != nil {
				logger.WarnCtx(ctx, "Push encoding failed", logger.Err(err))
				continue
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
				logger.DebugCtx(ctx, "Push write failed", logger.Err(err))
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait)); err != nil {
				return
			}
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(pushWriteWait))
			return
		case <-ctx.Done():
			return
		}
	}
}
