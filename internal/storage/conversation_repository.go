package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"llm_evaluator/internal/models"
)

const conversationColumns = `id, title, system_prompt, created_at`

// ConversationRepository handles conversation database operations
type ConversationRepository struct {
	q sqlx.ExtContext
}

func newConversationRepository(q sqlx.ExtContext) *ConversationRepository {
	return &ConversationRepository{q: q}
}

// GetByID retrieves a conversation without its messages
func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	if err := sqlx.GetContext(ctx, r.q, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// List returns conversations newest first
func (r *ConversationRepository) List(ctx context.Context, page Page) ([]*models.Conversation, error) {
	page = page.normalize()
	query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	result := []*models.Conversation{}
	if err := sqlx.SelectContext(ctx, r.q, &result, query, page.Limit, page.Skip); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return result, nil
}

// Create inserts a conversation, filling in the default title and prompt
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	conv.ApplyDefaults()

	query := `
		INSERT INTO conversations (title, system_prompt)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	if err := r.q.QueryRowxContext(ctx, query, conv.Title, conv.SystemPrompt).Scan(&conv.ID, &conv.CreatedAt); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// UpdateSystemPrompt replaces a conversation's system prompt
func (r *ConversationRepository) UpdateSystemPrompt(ctx context.Context, id int64, prompt string) error {
	result, err := r.q.ExecContext(ctx, `UPDATE conversations SET system_prompt = $2 WHERE id = $1`, id, prompt)
	if err != nil {
		return fmt.Errorf("failed to update system prompt: %w", err)
	}

	return requireAffected(result, ErrConversationNotFound)
}

// Delete removes a conversation; messages and metadata cascade
func (r *ConversationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return requireAffected(result, ErrConversationNotFound)
}

func requireAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
