package app

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/dkeye/mprelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps session codes to sessions. It is owned by the hub loop and
// is not safe for concurrent use.
type Registry struct {
	sessions map[domain.SessionID]*domain.Session
	seq      uint64
	intn     func(n int) int
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*domain.Session),
		intn:     rand.IntN,
	}
}

// GenerateSessionID draws codes until one is not in use.
func (r *Registry) GenerateSessionID() domain.SessionID {
	var b strings.Builder
	for {
		b.Reset()
		for range domain.SessionIDLen {
			b.WriteByte(domain.SessionIDAlphabet[r.intn(len(domain.SessionIDAlphabet))])
		}
		id := domain.SessionID(b.String())
		if _, taken := r.sessions[id]; !taken {
			return id
		}
		log.Debug().Str("module", "app.registry").Str("session", string(id)).Msg("session code collision, retrying")
	}
}

// Create registers a new session with host as its only member.
func (r *Registry) Create(identifier string, cfg domain.SessionConfig, host domain.ClientID) *domain.Session {
	s := domain.NewSession(r.GenerateSessionID(), identifier, cfg, host)
	r.seq++
	s.Seq = r.seq
	r.sessions[s.ID] = s
	log.Info().Str("module", "app.registry").Str("session", string(s.ID)).Str("identifier", identifier).Str("host", string(host)).Msg("created session")
	return s
}

func (r *Registry) Get(id domain.SessionID) (*domain.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Delete is a no-op for unknown codes.
func (r *Registry) Delete(id domain.SessionID) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("deleted session")
}

// List returns the public sessions of one namespace in creation order.
func (r *Registry) List(identifier string) []*domain.Session {
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Config.Private && s.Identifier == identifier {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Session) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (r *Registry) Len() int { return len(r.sessions) }
