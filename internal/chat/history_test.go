package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHistoryLoad(t *testing.T) {
	backlog := []Message{
		{ID: "m1", RoomID: "P1", SenderID: "A", Body: "hi", CreatedAt: t0},
		{ID: "m2", RoomID: "P1", SenderID: "B", Body: "yo", CreatedAt: t0.Add(time.Second)},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rooms/P1/messages", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(backlog)
	}))
	defer srv.Close()

	msgs, err := NewHistoryClient(srv.URL).Load(context.Background(), "P1", "tok")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, MessageConfirmed, m.State)
	}
	require.Equal(t, "m1", msgs[0].ID)
}

func TestHistoryLoadRoomNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHistoryClient(srv.URL).Load(context.Background(), "nope", "tok")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHistoryLoadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHistoryClient(srv.URL).Load(context.Background(), "P1", "tok")
	require.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestHistoryLoadMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"`))
	}))
	defer srv.Close()

	_, err := NewHistoryClient(srv.URL).Load(context.Background(), "P1", "tok")
	require.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestHistoryLoadConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewHistoryClient(srv.URL).Load(context.Background(), "P1", "tok")
	require.ErrorIs(t, err, ErrHistoryUnavailable)
}
