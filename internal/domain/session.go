package domain

import (
	"errors"
	"slices"
)

const (
	SessionIDLen       = 6
	SessionIDAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultSessionName = "Unnamed"
)

var (
	ErrAlreadyMember = errors.New("already a member")
	ErrSessionFull   = errors.New("session full")
)

// SessionConfig is the host-controlled part of a session.
type SessionConfig struct {
	Name          string
	Private       bool
	MaxClients    int // <= 0 means unlimited
	HostMigration bool
}

// ConfigPatch carries only the fields a host_setup asked to change.
type ConfigPatch struct {
	Name          *string
	Private       *bool
	MaxClients    *int
	HostMigration *bool
}

func (p ConfigPatch) Apply(cfg *SessionConfig) {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Private != nil {
		cfg.Private = *p.Private
	}
	if p.MaxClients != nil {
		cfg.MaxClients = *p.MaxClients
	}
	if p.HostMigration != nil {
		cfg.HostMigration = *p.HostMigration
	}
}

// Session is a coded group of clients. Members keep join order; the first
// remaining member is the migration candidate.
type Session struct {
	ID         SessionID
	Identifier string
	Config     SessionConfig
	Host       ClientID
	Seq        uint64

	members        []ClientID
	messageCounter uint64
}

func NewSession(id SessionID, identifier string, cfg SessionConfig, host ClientID) *Session {
	return &Session{
		ID:         id,
		Identifier: identifier,
		Config:     cfg,
		Host:       host,
		members:    []ClientID{host},
	}
}

// Members returns a copy in join order.
func (s *Session) Members() []ClientID {
	return slices.Clone(s.members)
}

func (s *Session) MemberCount() int { return len(s.members) }

func (s *Session) HasMember(id ClientID) bool {
	return slices.Contains(s.members, id)
}

func (s *Session) IsFull() bool {
	return s.Config.MaxClients > 0 && len(s.members) >= s.Config.MaxClients
}

// AddMember appends id after checking capacity and duplicates.
func (s *Session) AddMember(id ClientID) error {
	if s.HasMember(id) {
		return ErrAlreadyMember
	}
	if s.IsFull() {
		return ErrSessionFull
	}
	s.members = append(s.members, id)
	return nil
}

// RemoveMember reports whether id was a member.
func (s *Session) RemoveMember(id ClientID) bool {
	i := slices.Index(s.members, id)
	if i < 0 {
		return false
	}
	s.members = slices.Delete(s.members, i, i+1)
	return true
}

// NextMessageID returns the current counter value and advances it.
func (s *Session) NextMessageID() uint64 {
	id := s.messageCounter
	s.messageCounter++
	return id
}

// PromoteFirst makes the earliest remaining member the host.
func (s *Session) PromoteFirst() (ClientID, bool) {
	if len(s.members) == 0 {
		return "", false
	}
	s.Host = s.members[0]
	return s.Host, true
}
