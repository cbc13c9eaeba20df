package chat

import "errors"

var (
	// ErrHistoryUnavailable means the backlog fetch failed (network, auth,
	// malformed payload). Recoverable: the room can open with empty history.
	ErrHistoryUnavailable = errors.New("chat: history unavailable")

	// ErrRoomNotFound means the server does not know the room. Terminal for
	// that room; no reconnect is attempted.
	ErrRoomNotFound = errors.New("chat: room not found")

	// ErrEmptyMessage rejects a send whose body trims to empty, before any
	// network effect.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrConnection means the websocket handshake was rejected. When caused
	// by an auth rejection it is terminal pending new credentials.
	ErrConnection = errors.New("chat: connection error")

	// ErrNoSuchMessage is returned when a resend targets an id that is not a
	// failed message in the store.
	ErrNoSuchMessage = errors.New("chat: no such message")

	// ErrClosed is returned by operations on a closed controller or session.
	ErrClosed = errors.New("chat: closed")
)
