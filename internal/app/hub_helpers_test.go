package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/mprelay/internal/core"
	"github.com/dkeye/mprelay/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame the hub hands it.
type fakeConn struct {
	id   domain.ClientID
	full bool

	mu     sync.Mutex
	frames []core.Frame
	closed int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: domain.ClientID(id)}
}

func (c *fakeConn) ID() domain.ClientID        { return c.id }
func (c *fakeConn) Kind() domain.TransportKind { return domain.TransportTCP }

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed == 0
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages decodes and clears the recorded frames.
func (c *fakeConn) messages(t testing.TB) []map[string]any {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()

	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m), "frame %s", f)
		out = append(out, m)
	}
	return out
}

// last returns the single pending message.
func (c *fakeConn) last(t testing.TB) map[string]any {
	t.Helper()
	msgs := c.messages(t)
	require.Len(t, msgs, 1, "client %s", c.id)
	return msgs[0]
}

func (c *fakeConn) none(t testing.TB) {
	t.Helper()
	require.Empty(t, c.messages(t), "client %s", c.id)
}

func newTestHub() *Hub {
	return NewHub(NewRegistry(), SimplePolicy{})
}

func connect(h *Hub, id string) *fakeConn {
	c := newFakeConn(id)
	h.handle(event{kind: eventConnect, conn: c})
	return c
}

func deliver(h *Hub, c core.Conn, raw string) {
	h.handle(event{kind: eventMessage, conn: c, frame: core.Frame(raw)})
}

func closeConn(h *Hub, c core.Conn) {
	h.handle(event{kind: eventDisconnect, conn: c})
}

func msg(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// hostSession makes c host a session and returns its code.
func hostSession(t testing.TB, h *Hub, c *fakeConn, identifier string, data map[string]any) domain.SessionID {
	t.Helper()
	if data == nil {
		data = map[string]any{}
	}
	deliver(h, c, msg(map[string]any{"identifier": identifier, "cmd": "host", "data": data}))
	reply := c.last(t)
	require.Equal(t, "host", reply["cmd"])
	return domain.SessionID(reply["session"].(string))
}

func joinSession(t testing.TB, h *Hub, c *fakeConn, identifier string, s domain.SessionID) map[string]any {
	t.Helper()
	deliver(h, c, msg(map[string]any{"identifier": identifier, "cmd": "join", "session": string(s)}))
	return c.last(t)
}
