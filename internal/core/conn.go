//go:generate go run go.uber.org/mock/mockgen -source=conn.go -destination=../mocks/mock_conn.go -package=mocks
package core

import (
	"errors"

	"github.com/dkeye/mprelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is one encoded protocol message without transport framing.
type Frame []byte

// Conn abstracts one accepted client connection of any transport.
// Owned by the adapter; the relay only sends, queries and closes.
type Conn interface {
	ID() domain.ClientID
	Kind() domain.TransportKind
	// TrySend queues f without blocking. It fails with ErrClosed or ErrBackpressure.
	TrySend(f Frame) error
	IsOpen() bool
	// Close is idempotent.
	Close()
}

// Inbox receives what adapters read off the wire.
// Disconnect must be reported exactly once per Conn, after its last Deliver.
type Inbox interface {
	Connect(c Conn)
	Deliver(c Conn, f Frame)
	Disconnect(c Conn)
}
