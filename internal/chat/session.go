package chat

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// ConnState is the connection state of a Session.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Session manages one persistent websocket connection to the messaging
// server: connect, join room, send, receive, reconnect. A Session serves
// exactly one room; room membership does not survive a dropped connection,
// so the join event is re-sent after every reconnect.
type Session struct {
	wsURL  string
	token  string
	roomID string
	dialer *websocket.Dialer

	// onMessage is invoked for each inbound event in wire order. onState is
	// invoked on every connection state change. Both are fixed at creation
	// so there is no registration to race with.
	onMessage func(ServerEvent)
	onState   func(ConnState)

	mu     sync.Mutex
	state  ConnState
	conn   *websocket.Conn
	send   chan ClientEvent
	closed chan struct{}
	once   sync.Once
}

// NewSession creates a session for roomID against the ws endpoint wsURL.
// The token is passed as a query parameter on the handshake, matching the
// server's auth middleware fallback.
func NewSession(wsURL, roomID, token string, onMessage func(ServerEvent), onState func(ConnState)) *Session {
	return &Session{
		wsURL:     wsURL,
		token:     token,
		roomID:    roomID,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onMessage: onMessage,
		onState:   onState,
		state:     ConnDisconnected,
		closed:    make(chan struct{}),
	}
}

// Connect opens the connection and joins the room. A handshake rejection
// leaves the session disconnected and returns ErrConnection; an auth
// rejection (401/403) is terminal and must be handled by the caller with
// fresh credentials.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(ConnConnecting)

	conn, resp, err := s.dial(ctx)
	if err != nil {
		s.setState(ConnDisconnected)
		if authRejected(resp) {
			return fmt.Errorf("%w: auth rejected (%d)", ErrConnection, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.attach(conn)
	return nil
}

// Send emits a message event. Best-effort: when the session is not connected
// or the outbound queue is full the event is dropped and correctness relies
// on the reconciler's confirmation timeout.
func (s *Session) Send(ev ClientEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	if s.state != ConnConnected || s.send == nil {
		return nil
	}
	select {
	case s.send <- ev:
	default:
	}
	return nil
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the connection down and cancels any pending reconnect.
// Idempotent, and terminal: a closed session never reconnects.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.setState(ConnDisconnected)
	})
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	return s.dialer.DialContext(ctx, s.wsURL+"?token="+url.QueryEscape(s.token), nil)
}

// attach installs a freshly dialed connection, queues the join event and
// starts the pumps. Join is written into the new queue before the connection
// is visible to Send, so it is always the first frame out.
func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		conn.Close()
		return
	default:
	}

	send := make(chan ClientEvent, 64)
	send <- ClientEvent{Type: EventJoin, RoomID: s.roomID}
	s.conn = conn
	s.send = send
	s.mu.Unlock()

	done := make(chan struct{})
	go s.writePump(conn, send, done)
	go s.readPump(conn, done)

	s.setState(ConnConnected)
}

// readPump pumps inbound events from the websocket to the onMessage handler,
// in wire order. On an unexpected error it hands off to the reconnect loop.
func (s *Session) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done) // stops this connection's write pump
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.onMessage(ev)
	}

	s.mu.Lock()
	if s.conn != conn {
		// Stale pump from a previous connection; the session has moved on.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.send = nil
	s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}
	go s.reconnect()
}

// writePump pumps queued events to the websocket and keeps the connection
// alive with pings.
func (s *Session) writePump(conn *websocket.Conn, send chan ClientEvent, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-s.closed:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// reconnect retries the handshake with exponential backoff and full jitter,
// indefinitely, until the session is closed or the server rejects the auth.
// Every successful reconnect re-issues the join event via attach.
func (s *Session) reconnect() {
	s.setState(ConnReconnecting)

	for attempt := 0; ; attempt++ {
		select {
		case <-s.closed:
			return
		case <-time.After(jitteredBackoff(attempt)):
		}

		conn, resp, err := s.dial(context.Background())
		if err != nil {
			if authRejected(resp) {
				// Expired or revoked token: retrying is pointless.
				s.setState(ConnDisconnected)
				return
			}
			continue
		}

		s.attach(conn)
		return
	}
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(state)
	}
}

// jitteredBackoff returns a delay drawn uniformly from [0, min(cap, base*2^n)].
func jitteredBackoff(attempt int) time.Duration {
	limit := backoffCap
	if attempt < 30 {
		if d := backoffBase << uint(attempt); d < limit {
			limit = d
		}
	}
	return time.Duration(rand.Int63n(int64(limit) + 1))
}

func authRejected(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}
