package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/duetcall/duet/internal/app"
	"github.com/duetcall/duet/internal/config"
	"github.com/duetcall/duet/internal/core"
	"github.com/duetcall/duet/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch *app.Orchestrator
	Cfg  *config.Config
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{Orch: orch, Cfg: cfg}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the connection's pumps.
// Each upgrade gets a fresh socket id; the cookie client token only
// identifies the browser across tabs and never stands in for a socket.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.SocketID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}

	ctl.Orch.Connect(sid, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
