package app

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"testing"

	"github.com/dkeye/mprelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var sessionCode = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateRegistersHostAsSoleMember(t *testing.T) {
	r := NewRegistry()
	s := r.Create("app1", domain.SessionConfig{Name: "room"}, "h")

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, []domain.ClientID{"h"}, s.Members())
	assert.Equal(t, "app1", s.Identifier)
	assert.Equal(t, 1, r.Len())
}

func TestGetUnknown(t *testing.T) {
	_, ok := NewRegistry().Get("NOPE00")
	assert.False(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := r.Create("app1", domain.SessionConfig{}, "h")
	r.Delete(s.ID)
	r.Delete(s.ID)
	r.Delete("NOPE00")

	_, ok := r.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestGenerateSessionIDRetriesOnCollision(t *testing.T) {
	r := NewRegistry()
	// first code drawn is AAAAAA, then BBBBBB
	draws := []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	r.intn = func(int) int {
		n := draws[0]
		draws = draws[1:]
		return n
	}

	first := r.Create("app1", domain.SessionConfig{}, "h1")
	require.Equal(t, domain.SessionID("AAAAAA"), first.ID)

	second := r.Create("app1", domain.SessionConfig{}, "h2")
	assert.Equal(t, domain.SessionID("BBBBBB"), second.ID)
	assert.Empty(t, draws)
}

func TestListFiltersPrivateAndNamespace(t *testing.T) {
	r := NewRegistry()
	public := r.Create("app1", domain.SessionConfig{Name: "public"}, "h1")
	r.Create("app1", domain.SessionConfig{Name: "private", Private: true}, "h2")
	r.Create("app2", domain.SessionConfig{Name: "other"}, "h3")
	later := r.Create("app1", domain.SessionConfig{Name: "later"}, "h4")

	list := r.List("app1")
	require.Len(t, list, 2)
	assert.Equal(t, public.ID, list[0].ID)
	assert.Equal(t, later.ID, list[1].ID)

	assert.Empty(t, r.List("app3"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	s := a.Create("app1", domain.SessionConfig{}, "h")
	_, ok := b.Get(s.ID)
	assert.False(t, ok)
}

// Property-based tests

func TestPropertySessionCodesWellFormedAndDistinct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		n := rapid.IntRange(1, 300).Draw(t, "sessions")
		seen := make(map[domain.SessionID]bool, n)
		for i := range n {
			s := r.Create("app1", domain.SessionConfig{}, domain.ClientID(fmt.Sprintf("h%d", i)))
			if !sessionCode.MatchString(string(s.ID)) {
				t.Fatalf("bad session code %q", s.ID)
			}
			if seen[s.ID] {
				t.Fatalf("duplicate session code %q", s.ID)
			}
			seen[s.ID] = true
		}
		if r.Len() != n {
			t.Fatalf("registry holds %d sessions, want %d", r.Len(), n)
		}
	})
}

func TestPropertyCodesDistinctUnderSmallAlphabet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		// two symbols per position leaves 64 codes, so collisions are frequent
		rng := rand.New(rand.NewPCG(rapid.Uint64().Draw(t, "seed"), 0))
		r.intn = func(int) int { return rng.IntN(2) }
		n := rapid.IntRange(1, 40).Draw(t, "sessions")
		for range n {
			r.Create("app1", domain.SessionConfig{}, "h")
		}
		if r.Len() != n {
			t.Fatalf("registry holds %d sessions, want %d", r.Len(), n)
		}
	})
}
