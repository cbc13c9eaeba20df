package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Credentials is the authentication material supplied by the caller's session
// layer at Open time. The controller never refreshes or mutates it; an
// expired token surfaces as a terminal ErrConnection.
type Credentials struct {
	Token  string
	UserID string
}

// Controller orchestrates one open project room: it loads the backlog, runs
// the realtime session, routes inbound events through the reconciler, and
// exposes the merged ordered sequence plus the connection state to the UI.
// Exactly one controller instance drives one room at a time.
type Controller struct {
	history *HistoryClient
	wsURL   string

	// OnChange fires after every change to the message sequence; OnState on
	// every connection state change. Set before Open, nil to ignore.
	OnChange func()
	OnState  func(ConnState)

	mu         sync.Mutex
	gen        int // bumped on every open/close so stale async results are provably unused
	sess       *Session
	rec        *Reconciler
	state      ConnState
	historyErr error
}

// NewController creates a controller talking to the marketplace REST API at
// baseURL and the messaging server at wsURL.
func NewController(baseURL, wsURL string) *Controller {
	return &Controller{
		history: NewHistoryClient(baseURL),
		wsURL:   wsURL,
		state:   ConnDisconnected,
	}
}

// Open acquires a room session: history fetch, connect, join. Any previously
// open room is torn down first. A RoomNotFound from the history fetch is
// terminal and no connection is attempted; any other history failure is
// recorded (see HistoryErr) and the room opens with an empty backlog. On a
// connect failure everything acquired so far is released before returning.
func (c *Controller) Open(ctx context.Context, roomID string, auth Credentials) error {
	c.Close()

	c.mu.Lock()
	gen := c.gen
	c.historyErr = nil
	c.mu.Unlock()

	backlog, err := c.history.Load(ctx, roomID, auth.Token)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return err
	case err != nil:
		// Availability over completeness: enter the room empty-handed.
		backlog = nil
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrClosed
	}
	c.historyErr = err

	store := NewStore()
	for _, msg := range backlog {
		store.Insert(msg)
	}
	rec := NewReconciler(store, roomID, auth.UserID, c.OnChange)
	sess := NewSession(c.wsURL, roomID, auth.Token, rec.HandleInbound, func(state ConnState) {
		c.observeState(gen, state)
	})

	c.sess = sess
	c.rec = rec
	c.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		c.Close()
		return err
	}
	return nil
}

// SendMessage inserts an optimistic pending message and emits it. Returns
// ErrEmptyMessage when the body trims to empty. The returned message carries
// the temporary id; its terminal state arrives through OnChange.
func (c *Controller) SendMessage(body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	rec, sess := c.rec, c.sess
	c.mu.Unlock()
	if rec == nil {
		return Message{}, ErrClosed
	}

	msg, ev, err := rec.SendLocal(body)
	if err != nil {
		return Message{}, err
	}
	_ = sess.Send(ev)
	return msg, nil
}

// Resend retries a failed message under a fresh temporary id.
func (c *Controller) Resend(tempID string) (Message, error) {
	c.mu.Lock()
	rec, sess := c.rec, c.sess
	c.mu.Unlock()
	if rec == nil {
		return Message{}, ErrClosed
	}

	msg, ev, err := rec.Resend(tempID)
	if err != nil {
		return Message{}, err
	}
	_ = sess.Send(ev)
	return msg, nil
}

// Messages returns the ordered message sequence for rendering, recomputed
// from the store on each call.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Messages()
}

// ConnectionState returns the realtime session state for UI binding.
func (c *Controller) ConnectionState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HistoryErr reports whether the last Open degraded to an empty history, and
// why. Nil once a backlog loads cleanly.
func (c *Controller) HistoryErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyErr
}

// Close tears down the session, cancels confirmation timers and reconnect
// attempts, and clears in-memory state. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	sess, rec := c.sess, c.rec
	c.sess, c.rec = nil, nil
	c.state = ConnDisconnected
	c.mu.Unlock()

	if rec != nil {
		rec.Close()
	}
	if sess != nil {
		sess.Close()
	}
}

// observeState records a session state change, ignoring callbacks from
// sessions of a previous generation.
func (c *Controller) observeState(gen int, state ConnState) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.OnState != nil {
		c.OnState(state)
	}
}
