package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestSession(maxClients int) *Session {
	return NewSession("ABC123", "game", SessionConfig{Name: "room", MaxClients: maxClients}, "host")
}

func TestNewSessionHostIsOnlyMember(t *testing.T) {
	s := newTestSession(0)
	assert.Equal(t, []ClientID{"host"}, s.Members())
	assert.Equal(t, ClientID("host"), s.Host)
	assert.Equal(t, 1, s.MemberCount())
}

func TestMembersReturnsCopy(t *testing.T) {
	s := newTestSession(0)
	m := s.Members()
	m[0] = "other"
	assert.True(t, s.HasMember("host"))
	assert.False(t, s.HasMember("other"))
}

func TestAddMemberRejectsDuplicates(t *testing.T) {
	s := newTestSession(0)
	require.NoError(t, s.AddMember("a"))
	assert.ErrorIs(t, s.AddMember("a"), ErrAlreadyMember)
	assert.Equal(t, []ClientID{"host", "a"}, s.Members())
}

func TestAddMemberRespectsCapacity(t *testing.T) {
	s := newTestSession(2)
	require.NoError(t, s.AddMember("a"))
	assert.True(t, s.IsFull())
	assert.ErrorIs(t, s.AddMember("b"), ErrSessionFull)
}

func TestNonPositiveMaxClientsIsUnlimited(t *testing.T) {
	for _, limit := range []int{0, -1, -100} {
		s := newTestSession(limit)
		for i := range 50 {
			require.NoError(t, s.AddMember(ClientID(fmt.Sprintf("c%d", i))))
		}
		assert.False(t, s.IsFull(), "limit %d", limit)
	}
}

func TestRemoveMember(t *testing.T) {
	s := newTestSession(0)
	require.NoError(t, s.AddMember("a"))
	require.NoError(t, s.AddMember("b"))

	assert.True(t, s.RemoveMember("a"))
	assert.False(t, s.RemoveMember("a"))
	assert.Equal(t, []ClientID{"host", "b"}, s.Members())
}

func TestNextMessageIDStartsAtZero(t *testing.T) {
	s := newTestSession(0)
	assert.Equal(t, uint64(0), s.NextMessageID())
	assert.Equal(t, uint64(1), s.NextMessageID())
	assert.Equal(t, uint64(2), s.NextMessageID())
}

func TestPromoteFirst(t *testing.T) {
	s := newTestSession(0)
	require.NoError(t, s.AddMember("a"))
	require.NoError(t, s.AddMember("b"))
	s.RemoveMember("host")

	next, ok := s.PromoteFirst()
	require.True(t, ok)
	assert.Equal(t, ClientID("a"), next)
	assert.Equal(t, ClientID("a"), s.Host)

	s.RemoveMember("a")
	s.RemoveMember("b")
	_, ok = s.PromoteFirst()
	assert.False(t, ok)
}

func TestConfigPatchAppliesOnlyPresentFields(t *testing.T) {
	cfg := SessionConfig{Name: "old", Private: true, MaxClients: 4, HostMigration: true}
	name := "new"
	limit := 8
	ConfigPatch{Name: &name, MaxClients: &limit}.Apply(&cfg)

	assert.Equal(t, SessionConfig{Name: "new", Private: true, MaxClients: 8, HostMigration: true}, cfg)
}

func TestNewClientIDIsUnique(t *testing.T) {
	seen := make(map[ClientID]struct{})
	for range 1000 {
		id := NewClientID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

// Property-based tests

func TestPropertyMembersStayUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newTestSession(0)
		ops := rapid.SliceOf(rapid.SampledFrom([]ClientID{"a", "b", "c", "d", "host"})).Draw(t, "ops")
		remove := rapid.SliceOf(rapid.Bool()).Draw(t, "remove")
		for i, id := range ops {
			if i < len(remove) && remove[i] {
				s.RemoveMember(id)
			} else {
				_ = s.AddMember(id)
			}
		}
		members := s.Members()
		seen := make(map[ClientID]bool)
		for _, id := range members {
			if seen[id] {
				t.Fatalf("duplicate member %q in %v", id, members)
			}
			seen[id] = true
		}
	})
}

func TestPropertyCapacityNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		s := newTestSession(limit)
		n := rapid.IntRange(0, 30).Draw(t, "joins")
		for i := range n {
			_ = s.AddMember(ClientID(fmt.Sprintf("c%d", i)))
		}
		if s.MemberCount() > limit {
			t.Fatalf("member count %d exceeds limit %d", s.MemberCount(), limit)
		}
	})
}
