package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/dkeye/mprelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

const eventBuffer = 256

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
	eventQuery
)

type event struct {
	kind  eventKind
	conn  core.Conn
	frame core.Frame
	query func()
}

// Client is the hub's record of one connection. Only the hub loop touches it.
// Whether it hosts is read from its session's Host, never stored here.
type Client struct {
	conn      core.Conn
	SessionID domain.SessionID
}

func (c *Client) ID() domain.ClientID { return c.conn.ID() }

// Hub is the single dispatch context. Every connect, message and disconnect
// is handled to completion on the Run goroutine before the next one starts,
// so the registry and sessions need no locking.
type Hub struct {
	Registry *Registry
	Policy   Policy

	clients map[domain.ClientID]*Client
	events  chan event
	stopped chan struct{}
}

func NewHub(reg *Registry, policy Policy) *Hub {
	return &Hub{
		Registry: reg,
		Policy:   policy,
		clients:  make(map[domain.ClientID]*Client),
		events:   make(chan event, eventBuffer),
		stopped:  make(chan struct{}),
	}
}

// Run processes events in arrival order until ctx is done, then closes every
// connection it still knows about.
func (h *Hub) Run(ctx context.Context) error {
	log.Info().Str("module", "app.hub").Msg("hub started")
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopped)
	for _, c := range h.clients {
		c.conn.Close()
	}
	log.Info().Str("module", "app.hub").Int("clients", len(h.clients)).Int("sessions", h.Registry.Len()).Msg("hub stopped")
}

// Connect registers a freshly accepted connection. After shutdown the
// connection is closed instead.
func (h *Hub) Connect(c core.Conn) {
	if !h.enqueue(event{kind: eventConnect, conn: c}) {
		c.Close()
	}
}

func (h *Hub) Deliver(c core.Conn, f core.Frame) {
	h.enqueue(event{kind: eventMessage, conn: c, frame: f})
}

func (h *Hub) Disconnect(c core.Conn) {
	h.enqueue(event{kind: eventDisconnect, conn: c})
}

// PublicSessions lists public sessions of a namespace, read on the hub loop.
func (h *Hub) PublicSessions(ctx context.Context, identifier string) ([]protocol.ListEntry, error) {
	result := make(chan []protocol.ListEntry, 1)
	query := func() { result <- h.listEntries(identifier) }
	if !h.enqueue(event{kind: eventQuery, query: query}) {
		return nil, ErrHubStopped
	}
	select {
	case entries := <-result:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stopped:
		return nil, ErrHubStopped
	}
}

func (h *Hub) enqueue(ev event) bool {
	select {
	case <-h.stopped:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		h.connect(ev.conn)
	case eventMessage:
		c, ok := h.clients[ev.conn.ID()]
		if !ok {
			return
		}
		h.dispatch(c, ev.frame)
	case eventDisconnect:
		h.disconnect(ev.conn)
	case eventQuery:
		ev.query()
	}
}

func (h *Hub) connect(conn core.Conn) {
	h.clients[conn.ID()] = &Client{conn: conn}
	log.Info().Str("module", "app.hub").Str("client_id", string(conn.ID())).Str("transport", string(conn.Kind())).Msg("client connected")
}

// send encodes v and writes it to one client.
func (h *Hub) send(c *Client, s *domain.Session, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("encode reply")
		return
	}
	h.write(c, s, frame)
}

// broadcast encodes v once and writes it to every listed member still connected.
func (h *Hub) broadcast(s *domain.Session, ids []domain.ClientID, v any) {
	if len(ids) == 0 {
		return
	}
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("encode broadcast")
		return
	}
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			h.write(c, s, frame)
		}
	}
}

// write never blocks and never reports failure to the caller. A closed
// connection is skipped; a full one is handed to the policy.
func (h *Hub) write(c *Client, s *domain.Session, f core.Frame) {
	if !c.conn.IsOpen() {
		return
	}
	err := c.conn.TrySend(f)
	if err == nil || errors.Is(err, core.ErrClosed) {
		return
	}

	action := NoAction
	if h.Policy != nil {
		action = h.Policy.OnBackPressure(s, c.conn)
	}
	switch action {
	case KickMember:
		log.Warn().Err(err).Str("module", "app.hub").Str("client_id", string(c.ID())).Msg("kicking slow client")
		c.conn.Close()
	case DropFrame, NoAction:
		log.Debug().Err(err).Str("module", "app.hub").Str("client_id", string(c.ID())).Msg("frame dropped")
	}
}
