// Package stream is the byte-stream transport: newline-delimited JSON over TCP.
package stream

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var lineEnd = []byte{'\n'}

// Conn wraps one TCP connection. Inbound bytes are buffered until a newline;
// outbound frames are written with a trailing newline.
type Conn struct {
	id  domain.ClientID
	raw net.Conn

	send         chan core.Frame
	maxLine      int
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewConn wraps raw.
//
// Precondition: raw must be an open connection; maxLine and buffer must be positive.
func NewConn(raw net.Conn, maxLine, buffer int, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           domain.NewClientID(),
		raw:          raw,
		send:         make(chan core.Frame, buffer),
		maxLine:      maxLine,
		writeTimeout: writeTimeout,
	}
}

func (c *Conn) ID() domain.ClientID        { return c.id }
func (c *Conn) Kind() domain.TransportKind { return domain.TransportTCP }

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) TrySend(f core.Frame) error {
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

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Serve pumps the connection until it closes and reports Disconnect to
// inbox exactly once on the way out.
func (c *Conn) Serve(inbox core.Inbox) {
	go c.writeLoop()
	defer func() {
		c.Close()
		inbox.Disconnect(c)
	}()
	c.readLoop(inbox)
}

func (c *Conn) readLoop(inbox core.Inbox) {
	scanner := bufio.NewScanner(c.raw)
	scanner.Buffer(make([]byte, 0, min(4096, c.maxLine)), c.maxLine)
	scanner.Split(scanCompleteLines)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// the scanner reuses its buffer
		inbox.Deliver(c, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil && c.IsOpen() {
		log.Warn().Err(err).Str("module", "stream").Str("client_id", string(c.id)).Msg("read error")
	}
}

func (c *Conn) writeLoop() {
	for frame := range c.send {
		if c.writeTimeout > 0 {
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		bufs := net.Buffers{frame, lineEnd}
		if _, err := bufs.WriteTo(c.raw); err != nil {
			log.Debug().Err(err).Str("module", "stream").Str("client_id", string(c.id)).Msg("write error")
			c.Close()
			return
		}
	}
}

// scanCompleteLines splits on '\n' only. A trailing partial line at EOF is
// discarded rather than delivered.
func scanCompleteLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	return 0, nil, nil
}
