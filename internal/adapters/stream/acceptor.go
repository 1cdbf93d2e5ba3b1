package stream

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Options configure the TCP listener and its connections.
type Options struct {
	Host         string
	Port         int
	MaxLine      int
	SendBuffer   int
	WriteTimeout time.Duration
}

// Addr returns the "host:port" listen address.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, fmt.Sprint(o.Port))
}

// Acceptor listens for TCP clients and hands each one to the inbox.
type Acceptor struct {
	opts  Options
	inbox core.Inbox

	listener net.Listener
	wg       conc.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	conns    map[*Conn]struct{}
}

// NewAcceptor creates a TCP acceptor.
//
// Precondition: inbox must be non-nil.
func NewAcceptor(opts Options, inbox core.Inbox) *Acceptor {
	if opts.MaxLine <= 0 {
		opts.MaxLine = 64 * 1024
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &Acceptor{
		opts:  opts,
		inbox: inbox,
		quit:  make(chan struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

// ListenAndServe accepts connections until Stop is called.
//
// Postcondition: the listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	listener, err := net.Listen("tcp", a.opts.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.opts.Addr(), err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	log.Info().Str("module", "stream").Str("addr", listener.Addr().String()).Msg("TCP acceptor listening")

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				log.Error().Err(err).Str("module", "stream").Msg("accepting connection")
				continue
			}
		}
		a.wg.Go(func() { a.handleConn(raw) })
	}
}

func (a *Acceptor) handleConn(raw net.Conn) {
	start := time.Now()
	conn := NewConn(raw, a.opts.MaxLine, a.opts.SendBuffer, a.opts.WriteTimeout)

	if !a.track(conn) {
		_ = raw.Close()
		return
	}
	defer a.untrack(conn)

	log.Info().Str("module", "stream").Str("client_id", string(conn.ID())).Str("remote_addr", conn.RemoteAddr()).Msg("client connected")
	a.inbox.Connect(conn)
	conn.Serve(a.inbox)
	log.Info().Str("module", "stream").Str("client_id", string(conn.ID())).Dur("duration", time.Since(start)).Msg("session ended")
}

func (a *Acceptor) track(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.conns[c] = struct{}{}
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, c)
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish. Calling it before ListenAndServe makes
// the later call return immediately.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	a.running = false
	close(a.quit)
	if a.listener != nil {
		_ = a.listener.Close()
	}
	for c := range a.conns {
		c.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	log.Info().Str("module", "stream").Msg("TCP acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
