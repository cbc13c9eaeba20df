// Package chat is the client side of the project chat subsystem: it keeps an
// ordered, deduplicated message store per room, loads the REST backlog,
// maintains the realtime websocket session with reconnect and rejoin, and
// reconciles optimistic local sends against the server's confirmation echoes.
package chat

import "time"

// MessageState tracks a message through the optimistic-send lifecycle.
type MessageState string

const (
	// MessagePending is a locally inserted message awaiting the server echo.
	MessagePending MessageState = "pending"
	// MessageConfirmed is a server-acknowledged message.
	MessageConfirmed MessageState = "confirmed"
	// MessageFailed is a send that never got confirmed within the timeout.
	MessageFailed MessageState = "failed"
)

// Message is one chat message in a project room. Once confirmed it is
// immutable; only State (and ID/CreatedAt on confirmation) are ever
// reconciled.
type Message struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"room_id"`
	SenderID  string       `json:"sender_id"`
	Body      string       `json:"body"`
	CreatedAt time.Time    `json:"created_at"`
	State     MessageState `json:"state,omitempty"`
}

// Event types on the websocket wire.
const (
	EventJoin    = "join"
	EventMessage = "message"
)

// ClientEvent is the simplified JSON the client sends to the server.
// The server assigns ID and CreatedAt; the correlation ID is echoed back
// verbatim on the confirmation broadcast.
type ClientEvent struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id"`
	Body          string `json:"body,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ServerEvent is one inbound message event from the server, one event per
// message, no batching.
type ServerEvent struct {
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	RoomID        string    `json:"room_id"`
	SenderID      string    `json:"sender_id"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Message converts the event into a confirmed Message.
func (e ServerEvent) Message() Message {
	return Message{
		ID:        e.ID,
		RoomID:    e.RoomID,
		SenderID:  e.SenderID,
		Body:      e.Body,
		CreatedAt: e.CreatedAt,
		State:     MessageConfirmed,
	}
}
