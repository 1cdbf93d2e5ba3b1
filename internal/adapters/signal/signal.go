// Package signal is the framed transport: one WebSocket text frame carries
// one protocol message.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune the WebSocket transport.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

const (
	defaultReadLimit  = 32768
	defaultPingPeriod = 54 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultWriteWait  = 5 * time.Second
	defaultSendBuffer = 32
)

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = defaultPingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	return o
}

type SignalWSController struct {
	Inbox    core.Inbox
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(inbox core.Inbox, opts Options) *SignalWSController {
	return &SignalWSController{
		Inbox: inbox,
		opts:  opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn implements core.Conn over a gorilla connection.
type WsSignalConn struct {
	id   domain.ClientID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   domain.NewClientID(),
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() domain.ClientID        { return c.id }
func (c *WsSignalConn) Kind() domain.TransportKind { return domain.TransportWS }

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
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

// HandleSignal upgrades the request and starts the pumps. ctx bounds the
// connection lifetime.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	log.Info().
		Str("module", "signal").
		Str("client_id", string(conn.ID())).
		Str("client_token", c.GetString("client_token")).
		Str("remote_addr", c.Request.RemoteAddr).
		Msg("new WS connection")

	ctl.Inbox.Connect(conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(conn)
}
