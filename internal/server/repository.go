package server

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"projectchat/internal/chat"
)

// MessageRepository persists confirmed room messages and serves the history
// backlog. Implemented by PostgresRepository for production and
// MemoryRepository for dev mode and tests.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg chat.Message) error
	RoomMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// PostgresRepository stores messages in postgres via the pgx stdlib driver.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SaveMessage(ctx context.Context, msg chat.Message) error {
	query := `INSERT INTO messages (id, room_id, sender_id, body, created_at)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.SenderID, msg.Body, msg.CreatedAt)
	return err
}

func (r *PostgresRepository) RoomMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	query := `
		SELECT id, room_id, sender_id, body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MemoryRepository keeps messages per room in memory. Suitable for dev mode
// and tests; everything is lost on restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	rooms map[string][]chat.Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string][]chat.Message)}
}

func (r *MemoryRepository) SaveMessage(_ context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[msg.RoomID] = append(r.rooms[msg.RoomID], msg)
	return nil
}

func (r *MemoryRepository) RoomMessages(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.rooms[roomID]
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
