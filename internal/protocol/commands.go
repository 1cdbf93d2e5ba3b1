// Package protocol decodes client envelopes into a closed set of commands
// and defines the messages the relay sends back.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dkeye/mprelay/internal/domain"
)

const (
	CmdHost      = "host"
	CmdHostSetup = "host_setup"
	CmdJoin      = "join"
	CmdLeave     = "leave"
	CmdList      = "list"
	CmdGame      = "game"

	CmdError  = "error"
	CmdJoined = "joined"
	CmdLeft   = "left"
	CmdEvent  = "event"
	CmdClosed = "closed"
)

var (
	// ErrMalformed marks bodies that are not JSON, or JSON null; they are dropped without reply.
	ErrMalformed = errors.New("malformed message")
	// ErrMissingIdentifier is answered with an error reply.
	ErrMissingIdentifier = errors.New("missing identifier")
)

// EmptyData stands in for absent data and for scalar or null data.
var EmptyData = json.RawMessage(`{}`)

// Envelope is a decoded client message. Data is always a JSON object or array.
type Envelope struct {
	Identifier string
	Data       json.RawMessage
	Command    Command
}

// Command is one of Host, HostSetup, Join, Leave, List, Game or Noop.
type Command interface {
	Name() string
	command()
}

type Host struct {
	Config domain.SessionConfig
}

type HostSetup struct {
	Session domain.SessionID
	Patch   domain.ConfigPatch
}

type Join struct {
	Session domain.SessionID
}

type Leave struct {
	Session domain.SessionID
}

type List struct{}

type Game struct {
	Session     domain.SessionID
	Destination domain.ClientID // empty means broadcast
}

// Noop is an unknown command, or a known one missing a required field.
type Noop struct {
	Cmd    string
	Reason string
}

func (Host) Name() string      { return CmdHost }
func (HostSetup) Name() string { return CmdHostSetup }
func (Join) Name() string      { return CmdJoin }
func (Leave) Name() string     { return CmdLeave }
func (List) Name() string      { return CmdList }
func (Game) Name() string      { return CmdGame }
func (n Noop) Name() string    { return n.Cmd }

func (Host) command()      {}
func (HostSetup) command() {}
func (Join) command()      {}
func (Leave) command()     {}
func (List) command()      {}
func (Game) command()      {}
func (Noop) command()      {}

// Decode parses one inbound message.
//
// Returns ErrMalformed for bodies that are not JSON, or are JSON null, and
// ErrMissingIdentifier when identifier is absent, empty or not a string.
// Any other non-object JSON value has no identifier either.
func Decode(raw []byte) (Envelope, error) {
	if !json.Valid(raw) {
		return Envelope{}, ErrMalformed
	}
	switch {
	case startsWith(raw, 'n'):
		return Envelope{}, fmt.Errorf("%w: null body", ErrMalformed)
	case !startsWith(raw, '{'):
		return Envelope{}, ErrMissingIdentifier
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	identifier, ok := stringField(fields, "identifier")
	if !ok || identifier == "" {
		return Envelope{}, ErrMissingIdentifier
	}

	env := Envelope{
		Identifier: identifier,
		Data:       dataField(fields, "data"),
	}
	env.Command = decodeCommand(fields, env.Data)
	return env, nil
}

func decodeCommand(fields map[string]json.RawMessage, data json.RawMessage) Command {
	cmd, ok := stringField(fields, "cmd")
	if !ok {
		return Noop{Reason: "missing cmd"}
	}

	session, hasSession := stringField(fields, "session")
	sid := domain.SessionID(session)

	switch cmd {
	case CmdHost:
		return Host{Config: hostConfig(data)}
	case CmdList:
		return List{}
	}

	if !hasSession {
		return Noop{Cmd: cmd, Reason: "missing session"}
	}

	switch cmd {
	case CmdHostSetup:
		return HostSetup{Session: sid, Patch: configPatch(data)}
	case CmdJoin:
		return Join{Session: sid}
	case CmdLeave:
		return Leave{Session: sid}
	case CmdGame:
		dest, _ := stringField(fields, "destination")
		return Game{Session: sid, Destination: domain.ClientID(dest)}
	default:
		return Noop{Cmd: cmd, Reason: "unknown command"}
	}
}

// hostConfig reads the initial session settings; wrong types fall back to defaults.
func hostConfig(data json.RawMessage) domain.SessionConfig {
	p := configPatch(data)
	cfg := domain.SessionConfig{Name: domain.DefaultSessionName}
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
	return cfg
}

func configPatch(data json.RawMessage) domain.ConfigPatch {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(data, &fields)

	var p domain.ConfigPatch
	if s, ok := stringField(fields, "name"); ok {
		p.Name = &s
	}
	if b, ok := boolField(fields, "private"); ok {
		p.Private = &b
	}
	if n, ok := intField(fields, "maxClients"); ok {
		p.MaxClients = &n
	}
	if b, ok := boolField(fields, "hostMigration"); ok {
		p.HostMigration = &b
	}
	return p
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || !startsWith(raw, '"') {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func boolField(fields map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := fields[key]
	if !ok {
		return false, false
	}
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// intField accepts any JSON number. Fractions round up so that a limit of
// 2.5 admits as many members as a limit of 3.
func intField(fields map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := fields[key]
	if !ok || startsWith(raw, 'n') {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	f = math.Ceil(f)
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32, true
	case f < math.MinInt32:
		return math.MinInt32, true
	}
	return int(f), true
}

// dataField passes objects and arrays through untouched; anything else
// becomes EmptyData.
func dataField(fields map[string]json.RawMessage, key string) json.RawMessage {
	raw, ok := fields[key]
	if !ok || !(startsWith(raw, '{') || startsWith(raw, '[')) {
		return EmptyData
	}
	return raw
}

func startsWith(raw json.RawMessage, c byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == c
}
