package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ core.SignalChannel = (*Channel)(nil)

type ClientOptions struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// HandshakeTimeout bounds the WebSocket upgrade on top of ctx.
	HandshakeTimeout time.Duration
}

// Channel is the participant's connection to the relay. Outgoing messages
// go through one FIFO write pump, so messages to the same target keep
// their order. It never reconnects by itself.
type Channel struct {
	opts   ClientOptions
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	send         chan []byte
	endpoint     string
	closing      bool
	onMessage    func(domain.Message)
	onDisconnect func(error)

	dropOnce sync.Once
	done     chan struct{}
}

func NewChannel(opts ClientOptions) *Channel {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger: log.With().Str("module", "signal.client").Logger(),
		done:   make(chan struct{}),
	}
}

// Connect dials endpoint. Failures come back as *core.ConnectionError.
func (c *Channel) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.conn != nil || c.closing {
		c.mu.Unlock()
		return &core.ConnectionError{Endpoint: endpoint, Err: errAlreadyConnected}
	}
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return &core.ConnectionError{Endpoint: endpoint, Err: err}
	}
	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		return &core.ConnectionError{Endpoint: endpoint, Err: core.ErrChannelClosed}
	}
	c.conn = ws
	c.endpoint = endpoint
	c.send = make(chan []byte, c.opts.SendBuffer)
	send := c.send
	c.mu.Unlock()

	c.logger.Info().Str("endpoint", endpoint).Msg("connected")
	go c.writePump(ws, send)
	go c.readPump(ws, pongWait)
	return nil
}

// JoinRoom asks the relay to join room. The answer arrives through the
// message handler as joined or error.
func (c *Channel) JoinRoom(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.enqueue(domain.Message{Type: domain.MsgJoin, Room: room, ParticipantID: self})
}

// Send routes msg to participant to.
func (c *Channel) Send(msg domain.Message, to domain.ParticipantID) error {
	msg.To = to
	msg.From = ""
	return c.enqueue(msg)
}

func (c *Channel) OnMessage(fn func(domain.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *Channel) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Disconnect says goodbye and closes the connection. The disconnect handler
// does not fire for it. Safe to call more than once, or before Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn, send := c.conn, c.send
	if send != nil {
		if b, err := json.Marshal(domain.Message{Type: domain.MsgLeave}); err == nil {
			select {
			case send <- b:
			default:
			}
		}
		close(send)
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	select {
	case <-c.done:
	case <-time.After(2 * writeWait):
		_ = conn.Close()
		<-c.done
	}
	c.logger.Info().Msg("disconnected")
}

func (c *Channel) enqueue(msg domain.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.send == nil {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Channel) writePump(ws *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Disconnect: everything queued before it is flushed already.
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.drop(err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.drop(err)
				return
			}
		}
	}
}

func (c *Channel) readPump(ws *websocket.Conn, pongWait time.Duration) {
	defer close(c.done)
	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.drop(err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame from relay")
			continue
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
}

// drop reports an unrequested transport loss, once.
func (c *Channel) drop(err error) {
	c.mu.Lock()
	requested := c.closing
	c.closing = true
	if !requested && c.send != nil {
		close(c.send)
	}
	conn, fn, endpoint := c.conn, c.onDisconnect, c.endpoint
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if requested {
		return
	}
	c.dropOnce.Do(func() {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("relay connection lost")
		if fn != nil {
			fn(&core.ConnectionError{Endpoint: endpoint, Err: errDropped(err)})
		}
	})
}

var (
	errConnectionLost   = errors.New("relay connection lost")
	errAlreadyConnected = errors.New("channel already used")
)

func errDropped(err error) error {
	if err == nil {
		return errConnectionLost
	}
	return errors.Join(errConnectionLost, err)
}
