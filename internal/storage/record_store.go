package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/models"
)

// RecordStore is the record-store surface the chat service runs against.
// Outside WithinTx every call commits on its own.
type RecordStore struct {
	db *DB
	q  sqlx.ExtContext

	providers     *ProviderRepository
	models        *ModelRepository
	conversations *ConversationRepository
	messages      *MessageRepository
	metadata      *GenerationMetadataRepository
}

func newRecordStore(db *DB, q sqlx.ExtContext) *RecordStore {
	return &RecordStore{
		db:            db,
		q:             q,
		providers:     newProviderRepository(q, db.enc, db.providerCache, db.modelCache),
		models:        newModelRepository(q, db.modelCache),
		conversations: newConversationRepository(q),
		messages:      newMessageRepository(q),
		metadata:      newGenerationMetadataRepository(q),
	}
}

// WithinTx runs fn against a store bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *RecordStore) WithinTx(ctx context.Context, fn func(*RecordStore) error) (err error) {
	if _, nested := s.q.(*sqlx.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warningf("rollback failed: %v", rbErr)
			}
			return
		}
		if cmErr := tx.Commit(); cmErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cmErr)
		}
	}()

	return fn(newRecordStore(s.db, tx))
}

func (s *RecordStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.conversations.GetByID(ctx, id)
}

func (s *RecordStore) UpdateConversationSystemPrompt(ctx context.Context, id int64, prompt string) error {
	return s.conversations.UpdateSystemPrompt(ctx, id, prompt)
}

func (s *RecordStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return s.messages.GetByID(ctx, id)
}

func (s *RecordStore) ListMessages(ctx context.Context, conversationID int64, before *time.Time) ([]models.Message, error) {
	return s.messages.ListByConversation(ctx, conversationID, before)
}

func (s *RecordStore) InsertMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	return s.messages.Insert(ctx, conversationID, role, content)
}

func (s *RecordStore) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	return s.messages.UpdateContent(ctx, id, content)
}

func (s *RecordStore) DeleteMessagesAfter(ctx context.Context, conversationID int64, t time.Time) (int64, error) {
	return s.messages.DeleteAfter(ctx, conversationID, t)
}

func (s *RecordStore) InsertGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error {
	return s.metadata.Insert(ctx, meta)
}

func (s *RecordStore) UpdateGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error {
	return s.metadata.Update(ctx, meta)
}

func (s *RecordStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	return s.models.GetByID(ctx, id)
}

// GetProvider returns the provider with its API key decrypted
func (s *RecordStore) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	return s.providers.GetByID(ctx, id)
}
