package httpapi

import (
	"context"
	"fmt"

	"llm_evaluator/internal/chat"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/storage"
)

// AdminStore is the record management surface behind the provider, model,
// conversation and message endpoints
type AdminStore interface {
	CreateProvider(ctx context.Context, provider *models.Provider) error
	ListProviders(ctx context.Context, page storage.Page) ([]*models.Provider, error)
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	DeleteProvider(ctx context.Context, id int64) (*models.Provider, error)

	CreateModel(ctx context.Context, model *models.Model) error
	ListModels(ctx context.Context, page storage.Page) ([]*models.Model, error)
	ToggleModel(ctx context.Context, id int64) (*models.Model, error)
	DeleteModel(ctx context.Context, id int64) (*models.Model, error)
	AddMissingModels(ctx context.Context, providerID int64, modelIDs []string) (int, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, page storage.Page) ([]*models.Conversation, error)
	// GetConversation embeds the ordered messages with their metadata
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error

	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	CreateMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error)
}

// DatabaseAdminStore implements AdminStore on the storage repositories
type DatabaseAdminStore struct {
	providers     *storage.ProviderRepository
	models        *storage.ModelRepository
	conversations *storage.ConversationRepository
	messages      *storage.MessageRepository
}

// NewDatabaseAdminStore creates a new database-backed admin store
func NewDatabaseAdminStore(db *storage.DB) *DatabaseAdminStore {
	return &DatabaseAdminStore{
		providers:     db.NewProviderRepository(),
		models:        db.NewModelRepository(),
		conversations: db.NewConversationRepository(),
		messages:      db.NewMessageRepository(),
	}
}

func (s *DatabaseAdminStore) CreateProvider(ctx context.Context, provider *models.Provider) error {
	return s.providers.Create(ctx, provider)
}

func (s *DatabaseAdminStore) ListProviders(ctx context.Context, page storage.Page) ([]*models.Provider, error) {
	return s.providers.List(ctx, page)
}

func (s *DatabaseAdminStore) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *DatabaseAdminStore) DeleteProvider(ctx context.Context, id int64) (*models.Provider, error) {
	return s.providers.Delete(ctx, id)
}

func (s *DatabaseAdminStore) CreateModel(ctx context.Context, model *models.Model) error {
	return s.models.Create(ctx, model)
}

func (s *DatabaseAdminStore) ListModels(ctx context.Context, page storage.Page) ([]*models.Model, error) {
	return s.models.List(ctx, page)
}

func (s *DatabaseAdminStore) ToggleModel(ctx context.Context, id int64) (*models.Model, error) {
	return s.models.ToggleEnabled(ctx, id)
}

func (s *DatabaseAdminStore) DeleteModel(ctx context.Context, id int64) (*models.Model, error) {
	return s.models.Delete(ctx, id)
}

func (s *DatabaseAdminStore) AddMissingModels(ctx context.Context, providerID int64, modelIDs []string) (int, error) {
	return s.models.AddMissing(ctx, providerID, modelIDs)
}

func (s *DatabaseAdminStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	return s.conversations.Create(ctx, conv)
}

func (s *DatabaseAdminStore) ListConversations(ctx context.Context, page storage.Page) ([]*models.Conversation, error) {
	return s.conversations.List(ctx, page)
}

func (s *DatabaseAdminStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByConversation(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	conv.Messages = messages
	return conv, nil
}

func (s *DatabaseAdminStore) DeleteConversation(ctx context.Context, id int64) error {
	return s.conversations.Delete(ctx, id)
}

func (s *DatabaseAdminStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return s.messages.GetByID(ctx, id)
}

func (s *DatabaseAdminStore) CreateMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	return s.messages.Insert(ctx, conversationID, role, content)
}

// chatStore adapts storage.RecordStore to chat.Store; the two differ only
// in the store type WithinTx hands to its callback
type chatStore struct {
	*storage.RecordStore
}

// NewChatStore wraps a record store for the chat service
func NewChatStore(rs *storage.RecordStore) chat.Store {
	return chatStore{RecordStore: rs}
}

func (s chatStore) WithinTx(ctx context.Context, fn func(chat.Store) error) error {
	return s.RecordStore.WithinTx(ctx, func(tx *storage.RecordStore) error {
		return fn(chatStore{RecordStore: tx})
	})
}
