// Package dao persists a best-effort snapshot of conversation state. The
// engine is in-memory; the snapshot exists so a fresh session can show a
// recent conversation list before the first backend refresh completes.
package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/consync/internal/domain/chat/entity"
)

// SnapshotPostgres implements the snapshot repository for PostgreSQL
type SnapshotPostgres struct {
	pool *pgxpool.Pool
}

// NewSnapshotPostgres creates a new PostgreSQL snapshot repository
func NewSnapshotPostgres(pool *pgxpool.Pool) *SnapshotPostgres {
	return &SnapshotPostgres{pool: pool}
}

// SaveConversations upserts conversation summaries in one batch. Messages
// are not persisted; the snapshot carries only what the conversation list
// needs.
func (r *SnapshotPostgres) SaveConversations(ctx context.Context, convs []entity.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chat_conversation_snapshots (
			id, self_id, counterpart_id, counterpart_name, counterpart_avatar_url,
			counterpart_role, last_message_content, last_message_at,
			last_message_sender_id, unread_count, updated_at, snapshot_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			counterpart_name = EXCLUDED.counterpart_name,
			counterpart_avatar_url = EXCLUDED.counterpart_avatar_url,
			counterpart_role = EXCLUDED.counterpart_role,
			last_message_content = EXCLUDED.last_message_content,
			last_message_at = EXCLUDED.last_message_at,
			last_message_sender_id = EXCLUDED.last_message_sender_id,
			unread_count = EXCLUDED.unread_count,
			updated_at = EXCLUDED.updated_at,
			snapshot_at = EXCLUDED.snapshot_at
	`

	now := time.Now()
	for _, conv := range convs {
		var lastMessageAt *time.Time
		if !conv.LastMessage.Timestamp.IsZero() {
			t := conv.LastMessage.Timestamp
			lastMessageAt = &t
		}
		batch.Queue(query,
			conv.ID,
			conv.Self.ID,
			conv.Counterpart.ID,
			conv.Counterpart.Name,
			conv.Counterpart.AvatarURL,
			conv.Counterpart.Role,
			conv.LastMessage.Content,
			lastMessageAt,
			conv.LastMessage.SenderID,
			conv.UnreadCount,
			conv.UpdatedAt,
			now,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range convs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("executing snapshot upsert: %w", err)
		}
	}

	return nil
}
