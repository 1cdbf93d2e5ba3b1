package app

import (
	"encoding/json"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/dkeye/mprelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// disconnect runs once per closed connection. A client already released by
// leave is gone from the client table, so a late close event only makes
// sure the transport is shut.
func (h *Hub) disconnect(conn core.Conn) {
	c, ok := h.clients[conn.ID()]
	if !ok {
		conn.Close()
		return
	}
	if s, ok := h.currentSession(c); ok {
		s.RemoveMember(c.ID())
		h.release(c, s)
	}
	h.drop(c)
	log.Info().Str("module", "app.lifecycle").Str("client_id", string(c.ID())).Msg("client disconnected")
}

// leaveSession removes c from s and notifies the remaining members.
func (h *Hub) leaveSession(c *Client, s *domain.Session, data json.RawMessage) {
	s.RemoveMember(c.ID())
	h.broadcast(s, s.Members(), protocol.Reply{
		Cmd:      protocol.CmdLeft,
		ClientID: c.ID(),
		Data:     data,
	})
	h.release(c, s)
}

// release finishes a departure from s. c must already be out of the member
// list. A departing host either hands over to the earliest remaining member
// or takes the session down with it.
func (h *Hub) release(c *Client, s *domain.Session) {
	wasHost := s.Host == c.ID()
	c.SessionID = ""
	if !wasHost {
		return
	}

	if s.Config.HostMigration {
		if next, ok := s.PromoteFirst(); ok {
			log.Info().Str("module", "app.lifecycle").Str("session", string(s.ID)).Str("host", string(next)).Msg("host migrated")
			h.broadcast(s, s.Members(), protocol.HostMigrated(next))
			return
		}
	}

	members := s.Members()
	h.broadcast(s, members, protocol.HostDisconnected())
	for _, id := range members {
		if mc, ok := h.clients[id]; ok {
			mc.SessionID = ""
		}
	}
	h.Registry.Delete(s.ID)
}

// drop forgets c and closes its transport.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c.ID())
	c.conn.Close()
}

func (h *Hub) currentSession(c *Client) (*domain.Session, bool) {
	if c.SessionID == "" {
		return nil, false
	}
	return h.Registry.Get(c.SessionID)
}
