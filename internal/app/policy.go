package app

import (
	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a client whose outbound buffer is full.
// session is nil for direct replies outside any session.
type Policy interface {
	OnBackPressure(session *domain.Session, conn core.Conn) BackpressureAction
}

// SimplePolicy disconnects slow clients; their close event then runs the
// regular departure handling.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*domain.Session, core.Conn) BackpressureAction {
	return KickMember
}
