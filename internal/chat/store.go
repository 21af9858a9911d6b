package chat

import (
	"context"
	"time"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
)

// Store is the record store the protocols run against. Lookups return the
// storage package's not-found sentinels.
type Store interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	UpdateConversationSystemPrompt(ctx context.Context, id int64, prompt string) error

	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	// ListMessages orders by (created_at, id) and joins metadata. A non-nil
	// before keeps only messages created strictly earlier.
	ListMessages(ctx context.Context, conversationID int64, before *time.Time) ([]models.Message, error)
	InsertMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) error
	DeleteMessagesAfter(ctx context.Context, conversationID int64, t time.Time) (int64, error)

	InsertGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error
	UpdateGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error

	GetModel(ctx context.Context, id int64) (*models.Model, error)
	// GetProvider returns the provider with its API key decrypted
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)

	// WithinTx runs fn in one transaction, committing iff fn returns nil
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// Completer opens a streaming completion; providers.OpenAIClient is the
// production implementation.
type Completer interface {
	StreamCompletion(ctx context.Context, req providers.CompletionRequest) (providers.Stream, error)
}
