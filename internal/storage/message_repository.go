package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"llm_evaluator/internal/models"
)

const messageColumns = `id, conversation_id, role, content, created_at`

// MessageRepository handles message database operations. Reads join each
// message's generation metadata.
type MessageRepository struct {
	q    sqlx.ExtContext
	meta *GenerationMetadataRepository
}

func newMessageRepository(q sqlx.ExtContext) *MessageRepository {
	return &MessageRepository{q: q, meta: newGenerationMetadataRepository(q)}
}

// GetByID retrieves a message and its metadata
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	if err := sqlx.GetContext(ctx, r.q, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	meta, err := r.meta.ListByMessages(ctx, []int64{msg.ID})
	if err != nil {
		return nil, err
	}
	msg.GenerationMetadata = meta[msg.ID]
	if msg.GenerationMetadata == nil {
		msg.GenerationMetadata = []models.GenerationMetadata{}
	}

	return &msg, nil
}

// ListByConversation returns a conversation's messages ordered by
// (created_at, id). A non-nil before keeps only messages created strictly
// earlier.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64, before *time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	args := []interface{}{conversationID}
	if before != nil {
		query += ` AND created_at < $2`
		args = append(args, *before)
	}
	query += ` ORDER BY created_at, id`

	msgs := []models.Message{}
	if err := sqlx.SelectContext(ctx, r.q, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	meta, err := r.meta.ListByMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].GenerationMetadata = meta[msgs[i].ID]
		if msgs[i].GenerationMetadata == nil {
			msgs[i].GenerationMetadata = []models.GenerationMetadata{}
		}
	}

	return msgs, nil
}

// Insert appends a message to a conversation
func (r *MessageRepository) Insert(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("failed to insert message: invalid role %q", role)
	}

	msg := models.Message{
		ConversationID:     conversationID,
		Role:               role,
		Content:            content,
		GenerationMetadata: []models.GenerationMetadata{},
	}
	query := `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.q.QueryRowxContext(ctx, query, conversationID, string(role), content).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return &msg, nil
}

// UpdateContent replaces a message's text in place
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	result, err := r.q.ExecContext(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return requireAffected(result, ErrMessageNotFound)
}

// DeleteAfter removes every message of the conversation created strictly
// after t and returns how many were removed. Metadata cascades.
func (r *MessageRepository) DeleteAfter(ctx context.Context, conversationID int64, t time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND created_at > $2`,
		conversationID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
