// Package server is the reference messaging server the chat core talks to:
// a room-scoped websocket hub with correlation-token echo, a REST history
// endpoint, and pluggable postgres or in-memory persistence.
package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"projectchat/internal/chat"
)

// fanoutChannel is the redis pub/sub channel shared by all server instances.
// Events carry their room id, so a single channel is enough.
const fanoutChannel = "projectchat.rooms"

type inboundEvent struct {
	client *client
	ev     chat.ClientEvent
}

type outboundEvent struct {
	roomID  string
	payload []byte
}

// Hub is the central router: it tracks connected clients, their current
// rooms, and fans message events out to the members of the event's room,
// sender included. With a redis client configured, events travel through
// pub/sub so every server instance sees them; without one the hub loops
// events back locally.
type Hub struct {
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	inbound    chan inboundEvent
	broadcast  chan outboundEvent

	rdb  *redis.Client     // optional cross-instance fan-out
	repo MessageRepository // message persistence
}

// NewHub creates a hub. rdb may be nil for single-instance deployments.
func NewHub(rdb *redis.Client, repo MessageRepository) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundEvent),
		broadcast:  make(chan outboundEvent),
		rdb:        rdb,
		repo:       repo,
	}
}

// Run is the hub's event loop. It is the only goroutine that touches
// h.clients and each client's room, so neither needs a lock.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case in := <-h.inbound:
			h.handleInbound(in)

		case out := <-h.broadcast:
			h.fanout(out)
		}
	}
}

// fanout delivers a payload to every client in the room, dropping clients
// whose send queue is full. Runs on the hub goroutine only.
func (h *Hub) fanout(out outboundEvent) {
	for client := range h.clients {
		if client.room != out.roomID {
			continue
		}
		select {
		case client.send <- out.payload:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// SubscribeToRedis feeds pub/sub events from other instances into the
// broadcast loop. Only started when redis is configured.
func (h *Hub) SubscribeToRedis() {
	pubsub := h.rdb.Subscribe(context.Background(), fanoutChannel)
	ch := pubsub.Channel()

	for msg := range ch {
		var ev chat.ServerEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("fanout: bad payload: %v", err)
			continue
		}
		h.broadcast <- outboundEvent{roomID: ev.RoomID, payload: []byte(msg.Payload)}
	}
}

func (h *Hub) handleInbound(in inboundEvent) {
	switch in.ev.Type {
	case chat.EventJoin:
		if in.ev.RoomID != "" {
			in.client.room = in.ev.RoomID
		}

	case chat.EventMessage:
		if in.ev.Body == "" || in.ev.RoomID == "" {
			return
		}

		msg := chat.Message{
			ID:        uuid.NewString(),
			RoomID:    in.ev.RoomID,
			SenderID:  in.client.userID,
			Body:      in.ev.Body,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SaveMessage(context.Background(), msg); err != nil {
			log.Printf("save message: %v", err)
		}

		ev := chat.ServerEvent{
			Type:          chat.EventMessage,
			ID:            msg.ID,
			RoomID:        msg.RoomID,
			SenderID:      msg.SenderID,
			Body:          msg.Body,
			CreatedAt:     msg.CreatedAt,
			CorrelationID: in.ev.CorrelationID, // echoed verbatim for reconciliation
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("marshal event: %v", err)
			return
		}

		if h.rdb != nil {
			if err := h.rdb.Publish(context.Background(), fanoutChannel, payload).Err(); err != nil {
				log.Printf("redis publish: %v", err)
			}
			return
		}
		// Single instance: deliver directly, preserving inbound order.
		h.fanout(outboundEvent{roomID: ev.RoomID, payload: payload})
	}
}
