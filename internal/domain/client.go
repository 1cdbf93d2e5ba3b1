// Package domain contains relay entities: clients, sessions and their identifiers.
package domain

import (
	"github.com/google/uuid"
)

type (
	ClientID      string
	SessionID     string
	TransportKind string
)

const (
	TransportWS  TransportKind = "ws"
	TransportTCP TransportKind = "tcp"
)

// NewClientID allocates a process-unique client identifier.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}
