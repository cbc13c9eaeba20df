package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeWSServer is a minimal messaging server: it records join events, exposes
// inbound client events, and lets tests broadcast server events or drop
// connections to force a reconnect.
type fakeWSServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn
	joins []string

	inbound chan ClientEvent
}

func newFakeWSServer(t *testing.T) *fakeWSServer {
	f := &fakeWSServer{inbound: make(chan ClientEvent, 64)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeWSServer) handle(w http.ResponseWriter, r *http.Request) {
	if f.reject.Load() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		var ev ClientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Type == EventJoin {
			f.mu.Lock()
			f.joins = append(f.joins, ev.RoomID)
			f.mu.Unlock()
		}
		f.inbound <- ev
	}
}

func (f *fakeWSServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeWSServer) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeWSServer) broadcast(t *testing.T, ev ServerEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		require.NoError(t, conn.WriteJSON(ev))
	}
}

func (f *fakeWSServer) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		conn.Close()
	}
	f.conns = nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnState
}

func (r *stateRecorder) observe(s ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) saw(want ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == want {
			return true
		}
	}
	return false
}

func TestSessionConnectJoinsRoom(t *testing.T) {
	f := newFakeWSServer(t)
	rec := &stateRecorder{}

	s := NewSession(f.url(), "P1", "tok", func(ServerEvent) {}, rec.observe)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, ConnConnected, s.State())

	require.Eventually(t, func() bool { return f.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.mu.Lock()
	require.Equal(t, []string{"P1"}, f.joins)
	f.mu.Unlock()
}

func TestSessionSendEmitsMessageEvent(t *testing.T) {
	f := newFakeWSServer(t)

	s := NewSession(f.url(), "P1", "tok", func(ServerEvent) {}, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Send(ClientEvent{Type: EventMessage, RoomID: "P1", Body: "yo", CorrelationID: "c1"}))

	for {
		select {
		case ev := <-f.inbound:
			if ev.Type != EventMessage {
				continue
			}
			require.Equal(t, "yo", ev.Body)
			require.Equal(t, "c1", ev.CorrelationID)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("message event never arrived")
		}
	}
}

func TestSessionInboundOrderPreserved(t *testing.T) {
	f := newFakeWSServer(t)

	var mu sync.Mutex
	var got []string
	s := NewSession(f.url(), "P1", "tok", func(ev ServerEvent) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	}, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for _, id := range []string{"e1", "e2", "e3"} {
		f.broadcast(t, ServerEvent{Type: EventMessage, ID: id, RoomID: "P1"})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"e1", "e2", "e3"}, got)
	mu.Unlock()
}

func TestSessionReconnectRejoinsOncePerDrop(t *testing.T) {
	f := newFakeWSServer(t)
	rec := &stateRecorder{}

	s := NewSession(f.url(), "P1", "tok", func(ServerEvent) {}, rec.observe)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.dropAll()
	require.Eventually(t, func() bool { return f.joinCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, rec.saw(ConnReconnecting))
	require.Equal(t, ConnConnected, s.State())

	f.dropAll()
	require.Eventually(t, func() bool { return f.joinCount() == 3 }, 5*time.Second, 10*time.Millisecond)

	// Exactly one join per successful connect, never more.
	require.Equal(t, 3, f.joinCount())
}

func TestSessionAuthRejectionIsTerminal(t *testing.T) {
	f := newFakeWSServer(t)
	f.reject.Store(true)

	s := NewSession(f.url(), "P1", "expired", func(ServerEvent) {}, nil)
	defer s.Close()

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, ConnDisconnected, s.State())
}

func TestSessionCloseCancelsReconnect(t *testing.T) {
	f := newFakeWSServer(t)

	s := NewSession(f.url(), "P1", "tok", func(ServerEvent) {}, nil)
	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Close()
	s.Close() // idempotent

	require.ErrorIs(t, s.Send(ClientEvent{Type: EventMessage, RoomID: "P1", Body: "late"}), ErrClosed)

	// No reconnect attempt: join count stays at 1 well past the first backoff.
	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, 1, f.joinCount())
	require.Equal(t, ConnDisconnected, s.State())
}

func TestSessionSendWhileDisconnectedIsBestEffort(t *testing.T) {
	s := NewSession("ws://127.0.0.1:0", "P1", "tok", func(ServerEvent) {}, nil)
	defer s.Close()

	// Never connected: the send is silently dropped, no error surfaces.
	require.NoError(t, s.Send(ClientEvent{Type: EventMessage, RoomID: "P1", Body: "void"}))
}
