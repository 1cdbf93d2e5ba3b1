package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/dkeye/mprelay/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dropPolicy struct{ calls int }

func (p *dropPolicy) OnBackPressure(*domain.Session, core.Conn) BackpressureAction {
	p.calls++
	return DropFrame
}

func newMockMember(ctrl *gomock.Controller, id string) *mocks.MockConn {
	m := mocks.NewMockConn(ctrl)
	m.EXPECT().ID().Return(domain.ClientID(id)).AnyTimes()
	m.EXPECT().Kind().Return(domain.TransportWS).AnyTimes()
	m.EXPECT().IsOpen().Return(true).AnyTimes()
	return m
}

func TestBackpressureKicksSlowMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newTestHub()
	host := connect(h, "h")
	id := hostSession(t, h, host, "app1", nil)

	slow := newMockMember(ctrl, "slow")
	gomock.InOrder(
		slow.EXPECT().TrySend(gomock.Any()).Return(nil),
		slow.EXPECT().TrySend(gomock.Any()).Return(core.ErrBackpressure),
	)
	slow.EXPECT().Close().MinTimes(1)

	h.handle(event{kind: eventConnect, conn: slow})
	deliver(h, slow, `{"identifier":"app1","cmd":"join","session":"`+string(id)+`"}`)
	host.messages(t)

	deliver(h, host, `{"identifier":"app1","cmd":"game","session":"`+string(id)+`"}`)
	assert.Equal(t, "game", host.last(t)["cmd"])

	// the kicked transport then reports its close
	closeConn(h, slow)
	s, ok := h.Registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, []domain.ClientID{"h"}, s.Members())
}

func TestBackpressureDropFramePolicy(t *testing.T) {
	policy := &dropPolicy{}
	h := NewHub(NewRegistry(), policy)
	host := connect(h, "h")
	g := connect(h, "g")
	id := hostSession(t, h, host, "app1", nil)
	joinSession(t, h, g, "app1", id)

	g.full = true
	deliver(h, host, `{"identifier":"app1","cmd":"game","session":"`+string(id)+`"}`)

	assert.Equal(t, 1, policy.calls)
	assert.Equal(t, 0, g.closeCount())
	s, _ := h.Registry.Get(id)
	assert.True(t, s.HasMember("g"))
}

func TestClosedSendIsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newTestHub()

	gone := mocks.NewMockConn(ctrl)
	gone.EXPECT().ID().Return(domain.ClientID("gone")).AnyTimes()
	gone.EXPECT().Kind().Return(domain.TransportTCP).AnyTimes()
	gone.EXPECT().IsOpen().Return(true).AnyTimes()
	gone.EXPECT().TrySend(gomock.Any()).Return(core.ErrClosed)
	gone.EXPECT().Close().Times(0)

	h.handle(event{kind: eventConnect, conn: gone})
	deliver(h, gone, `{"identifier":"app1","cmd":"list"}`)
}

func runHub(t *testing.T, h *Hub) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitFrames(t *testing.T, c *fakeConn, n int) []map[string]any {
	t.Helper()
	var got []map[string]any
	require.Eventually(t, func() bool {
		got = append(got, c.messages(t)...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestRunProcessesEventsInOrder(t *testing.T) {
	h := newTestHub()
	runHub(t, h)

	host := newFakeConn("h")
	guest := newFakeConn("g")
	h.Connect(host)
	h.Connect(guest)
	h.Deliver(host, core.Frame(`{"identifier":"app1","cmd":"host"}`))

	reply := waitFrames(t, host, 1)[0]
	id := reply["session"].(string)

	h.Deliver(guest, core.Frame(`{"identifier":"app1","cmd":"join","session":"`+id+`"}`))
	for range 10 {
		h.Deliver(host, core.Frame(`{"identifier":"app1","cmd":"game","session":"`+id+`"}`))
	}

	msgs := waitFrames(t, guest, 11)
	assert.Equal(t, "join", msgs[0]["cmd"])
	for i, m := range msgs[1:] {
		assert.Equal(t, float64(i), m["messageId"])
	}
}

func TestPublicSessions(t *testing.T) {
	h := newTestHub()
	runHub(t, h)

	host := newFakeConn("h")
	h.Connect(host)
	h.Deliver(host, core.Frame(`{"identifier":"app1","cmd":"host","data":{"name":"Room"}}`))
	waitFrames(t, host, 1)

	entries, err := h.PublicSessions(context.Background(), "app1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Room", entries[0].Name)
	assert.Equal(t, []domain.ClientID{"h"}, entries[0].Clients)

	entries, err = h.PublicSessions(context.Background(), "app2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newTestHub()
	cancel, done := runHub(t, h)

	c := newFakeConn("c")
	h.Connect(c)
	_, err := h.PublicSessions(context.Background(), "app1")
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 1, c.closeCount())

	late := newFakeConn("late")
	h.Connect(late)
	assert.Equal(t, 1, late.closeCount())

	_, err = h.PublicSessions(context.Background(), "app1")
	assert.ErrorIs(t, err, ErrHubStopped)
}
