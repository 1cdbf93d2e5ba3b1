package app

import (
	"errors"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/dkeye/mprelay/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

func (h *Hub) dispatch(c *Client, frame core.Frame) {
	env, err := protocol.Decode(frame)
	switch {
	case errors.Is(err, protocol.ErrMissingIdentifier):
		h.send(c, nil, protocol.MissingIdentifier(c.ID()))
		return
	case err != nil:
		log.Debug().Err(err).Str("module", "app.dispatcher").Str("client_id", string(c.ID())).Msg("dropped message")
		return
	}

	log.Debug().
		Str("module", "app.dispatcher").
		Str("client_id", string(c.ID())).
		Str("identifier", env.Identifier).
		Str("cmd", env.Command.Name()).
		Msg("command")

	switch cmd := env.Command.(type) {
	case protocol.Host:
		h.host(c, env, cmd)
	case protocol.HostSetup:
		h.hostSetup(c, env, cmd)
	case protocol.Join:
		h.join(c, env, cmd)
	case protocol.Leave:
		h.leave(c, env, cmd)
	case protocol.List:
		h.list(c, env)
	case protocol.Game:
		h.game(c, env, cmd)
	case protocol.Noop:
		log.Debug().Str("module", "app.dispatcher").Str("cmd", cmd.Cmd).Str("reason", cmd.Reason).Msg("ignored command")
	}
}

func (h *Hub) host(c *Client, env protocol.Envelope, cmd protocol.Host) {
	h.switchSession(c)

	s := h.Registry.Create(env.Identifier, cmd.Config, c.ID())
	c.SessionID = s.ID

	h.send(c, s, protocol.Reply{
		Session:  s.ID,
		Cmd:      protocol.CmdHost,
		ClientID: c.ID(),
		Data:     env.Data,
	})
}

func (h *Hub) hostSetup(c *Client, env protocol.Envelope, cmd protocol.HostSetup) {
	s, ok := h.Registry.Get(cmd.Session)
	if !ok {
		return
	}

	var reason string
	switch {
	case s.Identifier != env.Identifier:
		reason = protocol.ReasonIdentifierMismatch
	case s.Host != c.ID():
		reason = protocol.ReasonNotHost
	}
	if reason != "" {
		h.send(c, s, protocol.Status(s.ID, protocol.CmdHostSetup, c.ID(), reason))
		return
	}

	cmd.Patch.Apply(&s.Config)
	log.Info().
		Str("module", "app.dispatcher").
		Str("session", string(s.ID)).
		Str("name", s.Config.Name).
		Bool("private", s.Config.Private).
		Int("max_clients", s.Config.MaxClients).
		Bool("host_migration", s.Config.HostMigration).
		Msg("session updated")
	h.send(c, s, protocol.Status(s.ID, protocol.CmdHostSetup, c.ID(), ""))
}

func (h *Hub) join(c *Client, env protocol.Envelope, cmd protocol.Join) {
	s, ok := h.Registry.Get(cmd.Session)
	if !ok {
		return
	}

	var reason string
	switch {
	case s.Identifier != env.Identifier:
		reason = protocol.ReasonIdentifierMismatch
	case s.IsFull():
		reason = protocol.ReasonSessionFull
	case s.HasMember(c.ID()):
		reason = protocol.ReasonAlreadyJoined
	}
	if reason != "" {
		h.send(c, s, protocol.Status(s.ID, protocol.CmdJoin, c.ID(), reason))
		return
	}

	h.switchSession(c)

	prior := s.Members()
	c.SessionID = s.ID
	h.send(c, s, protocol.JoinReply{
		Session:  s.ID,
		Name:     s.Config.Name,
		Host:     s.Host,
		Clients:  prior,
		Cmd:      protocol.CmdJoin,
		ClientID: c.ID(),
		Data:     env.Data,
	})
	h.broadcast(s, prior, protocol.Reply{
		Session:  s.ID,
		Cmd:      protocol.CmdJoined,
		ClientID: c.ID(),
		Data:     env.Data,
	})
	if err := s.AddMember(c.ID()); err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Str("session", string(s.ID)).Msg("add member")
	}
}

// leave removes the caller, tells the others, then handles it like a close.
func (h *Hub) leave(c *Client, env protocol.Envelope, cmd protocol.Leave) {
	s, ok := h.Registry.Get(cmd.Session)
	if !ok || !s.HasMember(c.ID()) {
		return
	}
	h.leaveSession(c, s, env.Data)
	h.drop(c)
}

func (h *Hub) list(c *Client, env protocol.Envelope) {
	h.send(c, nil, protocol.Reply{
		Cmd:  protocol.CmdList,
		Data: protocol.ListData{List: h.listEntries(env.Identifier)},
	})
}

func (h *Hub) listEntries(identifier string) []protocol.ListEntry {
	return lo.Map(h.Registry.List(identifier), func(s *domain.Session, _ int) protocol.ListEntry {
		return protocol.NewListEntry(s)
	})
}

func (h *Hub) game(c *Client, env protocol.Envelope, cmd protocol.Game) {
	s, ok := h.Registry.Get(cmd.Session)
	if !ok {
		return
	}

	msg := protocol.GameMessage{
		Cmd:       protocol.CmdGame,
		MessageID: s.NextMessageID(),
		ClientID:  c.ID(),
		Broadcast: cmd.Destination == "",
		Data:      env.Data,
	}
	if msg.Broadcast {
		h.broadcast(s, s.Members(), msg)
		return
	}
	if s.HasMember(cmd.Destination) {
		h.broadcast(s, []domain.ClientID{cmd.Destination}, msg)
	}
}

// switchSession makes a client that is still in another session leave it
// first, keeping its transport open.
func (h *Hub) switchSession(c *Client) {
	s, ok := h.currentSession(c)
	if !ok {
		c.SessionID = ""
		return
	}
	log.Info().Str("module", "app.dispatcher").Str("client_id", string(c.ID())).Str("session", string(s.ID)).Msg("leaving previous session")
	h.leaveSession(c, s, protocol.EmptyData)
}
