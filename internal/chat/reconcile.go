package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// confirmTimeout bounds how long a pending message waits for its server
	// echo before it is marked failed.
	confirmTimeout = 10 * time.Second
	// fingerprintWindow is the allowed skew between the local estimate and
	// the server timestamp when matching without a correlation token.
	fingerprintWindow = 1 * time.Minute
)

type pendingSend struct {
	msg   Message
	timer *time.Timer
}

// Reconciler resolves the optimistic-send / server-echo duplication problem.
// A locally sent message is inserted as pending under a temporary id; the
// server's echo is matched back to it by correlation token (the temp id,
// round-tripped verbatim) or, failing that, by fingerprint — sender, room,
// body and time proximity. Everything else is inserted as-is, with duplicate
// server ids absorbed by the store.
//
// The Reconciler's mutex is the single serialisation point for store
// mutation: inbound events, local sends and confirmation timeouts all pass
// through it, standing in for the browser event loop of the original client.
type Reconciler struct {
	roomID  string
	selfID  string
	timeout time.Duration
	window  time.Duration

	// onChange fires after every store mutation, outside the lock.
	onChange func()

	mu      sync.Mutex
	store   *Store
	pending map[string]*pendingSend
	closed  bool
}

// NewReconciler creates a reconciler for one room session. selfID is the
// authenticated sender identity used to recognise our own echoes. onChange
// may be nil.
func NewReconciler(store *Store, roomID, selfID string, onChange func()) *Reconciler {
	return &Reconciler{
		roomID:   roomID,
		selfID:   selfID,
		timeout:  confirmTimeout,
		window:   fingerprintWindow,
		onChange: onChange,
		store:    store,
		pending:  make(map[string]*pendingSend),
	}
}

// SendLocal inserts an optimistic pending message with a client-estimated
// timestamp and returns it along with the wire event to emit. The temporary
// id doubles as the correlation token.
func (r *Reconciler) SendLocal(body string) (Message, ClientEvent, error) {
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    r.roomID,
		SenderID:  r.selfID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		State:     MessagePending,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ClientEvent{}, ErrClosed
	}
	r.store.Insert(msg)
	r.track(msg)
	r.mu.Unlock()

	r.notify()
	return msg, ClientEvent{
		Type:          EventMessage,
		RoomID:        r.roomID,
		Body:          body,
		CorrelationID: msg.ID,
	}, nil
}

// Resend retries a failed message: the failed entry is replaced by a fresh
// pending one with a new temporary id, and the send path repeats.
func (r *Reconciler) Resend(tempID string) (Message, ClientEvent, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ClientEvent{}, ErrClosed
	}
	old, ok := r.store.Get(tempID)
	if !ok || old.State != MessageFailed {
		r.mu.Unlock()
		return Message{}, ClientEvent{}, ErrNoSuchMessage
	}
	r.store.Remove(tempID)
	r.mu.Unlock()

	r.notify()
	return r.SendLocal(old.Body)
}

// HandleInbound processes one inbound message event from the session, in
// wire order. Events for other rooms are dropped.
func (r *Reconciler) HandleInbound(ev ServerEvent) {
	if ev.Type != EventMessage || ev.RoomID != r.roomID {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if p, ok := r.pending[ev.CorrelationID]; ok {
		r.confirm(p, ev)
		r.mu.Unlock()
		r.notify()
		return
	}

	if ev.SenderID == r.selfID {
		if p := r.fingerprintMatch(ev); p != nil {
			r.confirm(p, ev)
			r.mu.Unlock()
			r.notify()
			return
		}
	}

	inserted := r.store.Insert(ev.Message())
	r.mu.Unlock()
	if inserted {
		r.notify()
	}
}

// Close cancels all confirmation timers. Pending messages stay in the store
// unchanged; the owning controller discards the store with the session.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
	}
}

// Messages returns the current ordered message sequence.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.All()
}

// track registers a pending message and arms its confirmation timeout.
// Caller holds r.mu.
func (r *Reconciler) track(msg Message) {
	p := &pendingSend{msg: msg}
	p.timer = time.AfterFunc(r.timeout, func() { r.expire(msg.ID) })
	r.pending[msg.ID] = p
}

// confirm resolves a pending entry against its server echo. Caller holds r.mu.
func (r *Reconciler) confirm(p *pendingSend, ev ServerEvent) {
	p.timer.Stop()
	delete(r.pending, p.msg.ID)
	r.store.ConfirmPending(p.msg.ID, ev.Message())
}

// fingerprintMatch finds the oldest unresolved pending message matching the
// echo's body within the time window. Caller holds r.mu.
func (r *Reconciler) fingerprintMatch(ev ServerEvent) *pendingSend {
	var best *pendingSend
	for _, p := range r.pending {
		if p.msg.Body != ev.Body {
			continue
		}
		delta := ev.CreatedAt.Sub(p.msg.CreatedAt)
		if delta < -r.window || delta > r.window {
			continue
		}
		if best == nil || p.msg.CreatedAt.Before(best.msg.CreatedAt) {
			best = p
		}
	}
	return best
}

func (r *Reconciler) expire(tempID string) {
	r.mu.Lock()
	if _, ok := r.pending[tempID]; !ok || r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.pending, tempID)
	marked := r.store.MarkFailed(tempID)
	r.mu.Unlock()

	if marked {
		r.notify()
	}
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
