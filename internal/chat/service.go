package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/metrics"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/storage"
)

const (
	OperationNewTurn    = "new_turn"
	OperationEdit       = "edit_and_regenerate"
	OperationRegenerate = "regenerate_single"
)

// ServiceConfig holds the collaborators of a Service. Store and Completer
// are required.
type ServiceConfig struct {
	Store     Store
	Completer Completer
	Sink      logging.Sink
	Metrics   metrics.Metrics

	// Deadline for each model call; zero means unbounded
	CallTimeout time.Duration
}

// Service runs the conversation mutation protocols. Callers must serialize
// calls per conversation.
type Service struct {
	store     Store
	collector *Collector
	sink      logging.Sink
	metrics   metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("chat service requires a store")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("chat service requires a completer")
	}
	if cfg.Sink == nil {
		cfg.Sink = logging.NewNoopSink()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopMetrics()
	}

	return &Service{
		store:     cfg.Store,
		collector: NewCollector(cfg.Completer, cfg.CallTimeout),
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		log:       logging.Component("chat"),
		now:       time.Now,
	}, nil
}

// syncSystemPrompt stores prompt when it differs from the conversation's.
// An empty prompt keeps the stored one. Returns the prompt in effect.
func (s *Service) syncSystemPrompt(ctx context.Context, conv *models.Conversation, prompt string) (string, error) {
	if prompt == "" || prompt == conv.SystemPrompt {
		return conv.SystemPrompt, nil
	}
	if err := s.store.UpdateConversationSystemPrompt(ctx, conv.ID, prompt); err != nil {
		return "", fmt.Errorf("failed to update system prompt: %w", err)
	}
	conv.SystemPrompt = prompt
	return prompt, nil
}

// RunNewTurn appends userContent to the conversation, fans it out to
// modelIDs and appends one reply per resolved model in request order.
func (s *Service) RunNewTurn(ctx context.Context, conversationID int64, modelIDs []int64, systemPrompt, userContent string) ([]models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	prompt, err := s.syncSystemPrompt(ctx, conv, systemPrompt)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveModels(ctx, s.store, modelIDs)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, conv.ID, nil)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.InsertMessage(ctx, conv.ID, models.RoleUser, userContent)
	if err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	// Once the user message is durable the round runs to completion even if
	// the caller goes away; each call is still bounded by the call timeout.
	ctx = context.WithoutCancel(ctx)

	calls := planCalls(resolved, history, &userMsg.CreatedAt, prompt, userContent)
	results := s.fanOut(ctx, OperationNewTurn, calls)

	ids, err := appendResults(ctx, s.store, conv.ID, results)
	if err != nil {
		return nil, err
	}
	s.report(ctx, OperationNewTurn, conv.ID, results, ids)

	return s.store.ListMessages(ctx, conv.ID, nil)
}

// RunEditAndRegenerate replaces the content of a user message, drops every
// message created after it and replays the fan-out from there.
func (s *Service) RunEditAndRegenerate(ctx context.Context, conversationID int64, modelIDs []int64, targetMessageID int64, newContent, systemPrompt string) ([]models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	target, err := s.store.GetMessage(ctx, targetMessageID)
	if err != nil {
		return nil, err
	}
	if target.ConversationID != conv.ID {
		return nil, fmt.Errorf("message %d is not in conversation %d: %w", target.ID, conv.ID, storage.ErrMessageNotFound)
	}
	if target.Role != models.RoleUser {
		return nil, fmt.Errorf("cannot edit %s message %d: %w", target.Role, target.ID, ErrInvalidTarget)
	}

	prompt, err := s.syncSystemPrompt(ctx, conv, systemPrompt)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveModels(ctx, s.store, modelIDs)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		removed, err := tx.DeleteMessagesAfter(ctx, conv.ID, target.CreatedAt)
		if err != nil {
			return err
		}
		s.log.Debug().Int64("conversation_id", conv.ID).Int64("removed", removed).Msg("truncated conversation")
		return tx.UpdateMessageContent(ctx, target.ID, newContent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite conversation: %w", err)
	}

	ctx = context.WithoutCancel(ctx)

	history, err := s.store.ListMessages(ctx, conv.ID, &target.CreatedAt)
	if err != nil {
		return nil, err
	}

	calls := planCalls(resolved, history, &target.CreatedAt, prompt, newContent)
	results := s.fanOut(ctx, OperationEdit, calls)

	ids, err := appendResults(ctx, s.store, conv.ID, results)
	if err != nil {
		return nil, err
	}
	s.report(ctx, OperationEdit, conv.ID, results, ids)

	return s.store.ListMessages(ctx, conv.ID, nil)
}

// RunRegenerateSingle replays the model that produced an assistant message
// from its nearest preceding user message and overwrites that message and
// its metadata in place.
func (s *Service) RunRegenerateSingle(ctx context.Context, targetMessageID int64, systemPrompt string) ([]models.Message, error) {
	target, err := s.store.GetMessage(ctx, targetMessageID)
	if err != nil {
		return nil, err
	}
	if target.Role != models.RoleAssistant {
		return nil, fmt.Errorf("cannot regenerate %s message %d: %w", target.Role, target.ID, ErrInvalidTarget)
	}
	meta, ok := target.Producer()
	if !ok {
		return nil, fmt.Errorf("message %d: %w", target.ID, ErrMissingMetadata)
	}

	conv, err := s.store.GetConversation(ctx, target.ConversationID)
	if err != nil {
		return nil, err
	}

	prompt, err := s.syncSystemPrompt(ctx, conv, systemPrompt)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conv.ID, nil)
	if err != nil {
		return nil, err
	}

	userMsg, err := precedingUserMessage(messages, target.ID)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", target.ID, err)
	}

	resolved, err := s.resolveModels(ctx, s.store, []int64{meta.ModelID})
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		s.log.Info().Int64("message_id", target.ID).Int64("model_id", meta.ModelID).Msg("producing model is gone, nothing to regenerate")
		return messages, nil
	}

	ctx = context.WithoutCancel(ctx)

	calls := planCalls(resolved, messages, &userMsg.CreatedAt, prompt, userMsg.Content)
	results := s.fanOut(ctx, OperationRegenerate, calls)
	result := results[0]

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.UpdateMessageContent(ctx, target.ID, result.Content); err != nil {
			return err
		}
		updated := result.Metadata(target.ID)
		updated.ID = meta.ID
		return tx.UpdateGenerationMetadata(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store regenerated reply: %w", err)
	}
	s.report(ctx, OperationRegenerate, conv.ID, results, []int64{target.ID})

	return s.store.ListMessages(ctx, conv.ID, nil)
}

// precedingUserMessage walks backward from the target to the nearest user
// message
func precedingUserMessage(messages []models.Message, targetID int64) (*models.Message, error) {
	idx := -1
	for i := range messages {
		if messages[i].ID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, storage.ErrMessageNotFound
	}

	for i := idx - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return &messages[i], nil
		}
	}
	return nil, ErrNoPrecedingUserMessage
}

// IsValidationError reports errors the caller caused by pointing at the
// wrong message
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrMissingMetadata) ||
		errors.Is(err, ErrNoPrecedingUserMessage)
}
