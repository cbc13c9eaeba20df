package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(NewStore(), "P1", "self", nil)
}

func echoOf(msg Message, serverID string, token string) ServerEvent {
	return ServerEvent{
		Type:          EventMessage,
		ID:            serverID,
		RoomID:        msg.RoomID,
		SenderID:      msg.SenderID,
		Body:          msg.Body,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: token,
	}
}

func TestReconcilerConfirmsByCorrelationToken(t *testing.T) {
	r := newTestReconciler()

	msg, ev, err := r.SendLocal("yo")
	require.NoError(t, err)
	require.Equal(t, MessagePending, msg.State)
	require.Equal(t, msg.ID, ev.CorrelationID)

	r.HandleInbound(echoOf(msg, "m2", ev.CorrelationID))

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
	require.Equal(t, MessageConfirmed, msgs[0].State)
	require.Equal(t, "yo", msgs[0].Body)
}

func TestReconcilerConfirmsByFingerprint(t *testing.T) {
	r := newTestReconciler()

	msg, _, err := r.SendLocal("yo")
	require.NoError(t, err)

	// Server dropped the correlation token; match by sender+room+body+time.
	r.HandleInbound(echoOf(msg, "m2", ""))

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
	require.Equal(t, MessageConfirmed, msgs[0].State)
}

func TestReconcilerFingerprintIgnoresOtherParty(t *testing.T) {
	r := newTestReconciler()

	msg, _, err := r.SendLocal("yo")
	require.NoError(t, err)

	// Same body, but authored by the other party: must insert, not confirm.
	r.HandleInbound(ServerEvent{
		Type: EventMessage, ID: "m9", RoomID: "P1",
		SenderID: "other", Body: "yo", CreatedAt: time.Now().UTC(),
	})

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	got, ok := r.store.Get(msg.ID)
	require.True(t, ok)
	require.Equal(t, MessagePending, got.State)
}

func TestReconcilerInsertsOtherPartyAndDeduplicates(t *testing.T) {
	r := newTestReconciler()

	ev := ServerEvent{
		Type: EventMessage, ID: "m3", RoomID: "P1",
		SenderID: "other", Body: "hello", CreatedAt: time.Now().UTC(),
	}
	r.HandleInbound(ev)
	r.HandleInbound(ev) // duplicate delivery

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m3", msgs[0].ID)
}

func TestReconcilerIgnoresOtherRooms(t *testing.T) {
	r := newTestReconciler()

	r.HandleInbound(ServerEvent{
		Type: EventMessage, ID: "m4", RoomID: "P2",
		SenderID: "other", Body: "wrong room", CreatedAt: time.Now().UTC(),
	})

	require.Empty(t, r.Messages())
}

func TestReconcilerTimeoutMarksFailed(t *testing.T) {
	r := newTestReconciler()
	r.timeout = 20 * time.Millisecond

	msg, _, err := r.SendLocal("lost")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := r.store.Get(msg.ID)
		return ok && got.State == MessageFailed
	}, time.Second, 5*time.Millisecond)

	// A late echo must not resurrect the expired pending entry as a confirm;
	// it inserts as a regular message instead.
	r.HandleInbound(echoOf(msg, "m5", msg.ID))
	msgs := r.Messages()
	require.Len(t, msgs, 2)
}

func TestReconcilerResendIssuesFreshTempID(t *testing.T) {
	r := newTestReconciler()
	r.timeout = 20 * time.Millisecond

	msg, _, err := r.SendLocal("retry me")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := r.store.Get(msg.ID)
		return got.State == MessageFailed
	}, time.Second, 5*time.Millisecond)

	resent, ev, err := r.Resend(msg.ID)
	require.NoError(t, err)
	require.NotEqual(t, msg.ID, resent.ID)
	require.Equal(t, "retry me", resent.Body)
	require.Equal(t, MessagePending, resent.State)
	require.Equal(t, resent.ID, ev.CorrelationID)

	// The failed entry is gone, replaced by the new pending one.
	msgs := r.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, resent.ID, msgs[0].ID)
}

func TestReconcilerResendRejectsNonFailed(t *testing.T) {
	r := newTestReconciler()

	msg, _, err := r.SendLocal("still pending")
	require.NoError(t, err)

	_, _, err = r.Resend(msg.ID)
	require.ErrorIs(t, err, ErrNoSuchMessage)

	_, _, err = r.Resend("missing")
	require.ErrorIs(t, err, ErrNoSuchMessage)
}

func TestReconcilerCloseCancelsTimers(t *testing.T) {
	r := newTestReconciler()
	r.timeout = 20 * time.Millisecond

	msg, _, err := r.SendLocal("closing")
	require.NoError(t, err)

	r.Close()
	time.Sleep(50 * time.Millisecond)

	// The timer was cancelled; the message is still pending, not failed.
	got, ok := r.store.Get(msg.ID)
	require.True(t, ok)
	require.Equal(t, MessagePending, got.State)

	_, _, err = r.SendLocal("after close")
	require.ErrorIs(t, err, ErrClosed)
}
