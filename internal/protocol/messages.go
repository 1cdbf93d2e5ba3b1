package protocol

import (
	"encoding/json"

	"github.com/dkeye/mprelay/internal/domain"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	ReasonMissingIdentifier  = "missing_identifier"
	ReasonIdentifierMismatch = "identifier_mismatch"
	ReasonNotHost            = "not_host"
	ReasonSessionFull        = "session_full"
	ReasonAlreadyJoined      = "already_joined"
	ReasonHostMigrated       = "host_migrated"
	ReasonHostDisconnected   = "host_disconnected"
)

// Reply is the generic server envelope. Empty fields are omitted.
type Reply struct {
	Session  domain.SessionID `json:"session,omitempty"`
	Cmd      string           `json:"cmd"`
	ClientID domain.ClientID  `json:"clientId,omitempty"`
	Data     any              `json:"data,omitempty"`
}

type StatusData struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ReasonData struct {
	Reason string `json:"reason"`
}

type HostEventData struct {
	Host   domain.ClientID `json:"host"`
	Reason string          `json:"reason"`
}

type JoinReply struct {
	Session  domain.SessionID  `json:"session"`
	Name     string            `json:"name"`
	Host     domain.ClientID   `json:"host"`
	Clients  []domain.ClientID `json:"clients"`
	Cmd      string            `json:"cmd"`
	ClientID domain.ClientID   `json:"clientId"`
	Data     json.RawMessage   `json:"data"`
}

type GameMessage struct {
	Cmd       string          `json:"cmd"`
	MessageID uint64          `json:"messageId"`
	ClientID  domain.ClientID `json:"clientId"`
	Broadcast bool            `json:"broadcast"`
	Data      json.RawMessage `json:"data"`
}

type ListEntry struct {
	ID      domain.SessionID  `json:"id"`
	Name    string            `json:"name"`
	Clients []domain.ClientID `json:"clients"`
}

type ListData struct {
	List []ListEntry `json:"list"`
}

func MissingIdentifier(client domain.ClientID) Reply {
	return Reply{
		Cmd:      CmdError,
		ClientID: client,
		Data:     ReasonData{Reason: ReasonMissingIdentifier},
	}
}

// Status answers a session command with status ok, or error plus reason.
func Status(session domain.SessionID, cmd string, client domain.ClientID, reason string) Reply {
	data := StatusData{Status: StatusOK}
	if reason != "" {
		data = StatusData{Status: StatusError, Reason: reason}
	}
	return Reply{Session: session, Cmd: cmd, ClientID: client, Data: data}
}

func HostMigrated(host domain.ClientID) Reply {
	return Reply{Cmd: CmdEvent, Data: HostEventData{Host: host, Reason: ReasonHostMigrated}}
}

func HostDisconnected() Reply {
	return Reply{Cmd: CmdClosed, Data: ReasonData{Reason: ReasonHostDisconnected}}
}

// NewListEntry builds a listing row; clients is never encoded as null.
func NewListEntry(s *domain.Session) ListEntry {
	return ListEntry{ID: s.ID, Name: s.Config.Name, Clients: s.Members()}
}
