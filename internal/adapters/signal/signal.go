// Package signal is the WebSocket side of the relay, plus the client
// channel that talks to it.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/app/orch"
	"github.com/dkeye/Voice/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *RateLimiter[core.SessionID]
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.PongWait <= opts.PingPeriod {
		opts.PongWait = opts.PingPeriod * 10 / 9
	}
	if opts.RateLimit <= 0 || opts.RateInterval <= 0 {
		opts.RateLimit, opts.RateInterval = 50, time.Second
	}
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRateLimiter[core.SessionID](opts.RateLimit, opts.RateInterval),
	}
}

// WsSignalConn is the relay's end of one client connection. Frames queue on
// send and a single write pump drains them in order.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

// HandleSignal upgrades the request and runs the connection until either
// side closes it or ctx ends.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, conn, func() {
		cancel()
		conn.Close()
	})
	stop := context.AfterFunc(ctx, conn.Close)

	go ctl.writePump(ctx, conn)
	go func() {
		defer stop()
		defer cancel()
		ctl.readPump(ctx, sid, conn)
	}()
}
