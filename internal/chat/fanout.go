package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/metrics"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
)

// resolvedModel pairs a model with the endpoint it is served from
type resolvedModel struct {
	modelID int64
	target  providers.Target
}

// resolveModels looks up every requested model and its provider before
// anything is launched. Ids that no longer resolve are skipped; any other
// lookup failure aborts.
func (s *Service) resolveModels(ctx context.Context, store Store, modelIDs []int64) ([]resolvedModel, error) {
	resolved := make([]resolvedModel, 0, len(modelIDs))
	for _, id := range modelIDs {
		model, err := store.GetModel(ctx, id)
		if errors.Is(err, storage.ErrModelNotFound) {
			s.log.Debug().Int64("model_id", id).Msg("skipping unknown model")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve model %d: %w", id, err)
		}

		provider, err := store.GetProvider(ctx, model.ProviderID)
		if errors.Is(err, storage.ErrProviderNotFound) {
			s.log.Debug().Int64("model_id", id).Int64("provider_id", model.ProviderID).Msg("skipping model without provider")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve provider for model %d: %w", id, err)
		}

		resolved = append(resolved, resolvedModel{
			modelID: model.ID,
			target: providers.Target{
				BaseURL: provider.Endpoint(),
				APIKey:  provider.APIKey,
				Model:   model.ModelID,
			},
		})
	}
	return resolved, nil
}

// planCalls gives every resolved model its own projection of history
func planCalls(resolved []resolvedModel, history []models.Message, before *time.Time, systemPrompt, userContent string) []Call {
	calls := make([]Call, len(resolved))
	for i, r := range resolved {
		calls[i] = Call{
			ModelID: r.modelID,
			Target:  r.target,
			Turns:   buildTurns(systemPrompt, ProjectHistory(history, r.modelID, before), userContent),
		}
	}
	return calls
}

// fanOut runs every call concurrently and waits for all of them. A failing
// call never cancels its siblings; results keep the order of calls.
func (s *Service) fanOut(ctx context.Context, operation string, calls []Call) []Result {
	started := time.Now()
	results := make([]Result, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = s.collector.Collect(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.ObserveFanOut(operation, len(calls), time.Since(started))
	return results
}

// appendResults writes one assistant message and one metadata row per
// result, in order, inside a single transaction. It returns the new
// message ids.
func appendResults(ctx context.Context, store Store, conversationID int64, results []Result) ([]int64, error) {
	ids := make([]int64, len(results))
	err := store.WithinTx(ctx, func(tx Store) error {
		for i := range results {
			msg, err := tx.InsertMessage(ctx, conversationID, models.RoleAssistant, results[i].Content)
			if err != nil {
				return fmt.Errorf("failed to store reply from model %d: %w", results[i].ModelID, err)
			}
			if err := tx.InsertGenerationMetadata(ctx, results[i].Metadata(msg.ID)); err != nil {
				return fmt.Errorf("failed to store metadata for model %d: %w", results[i].ModelID, err)
			}
			ids[i] = msg.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// report sends each result to the audit sink and the metrics
func (s *Service) report(ctx context.Context, operation string, conversationID int64, results []Result, messageIDs []int64) {
	requestID := logging.RequestID(ctx)
	for i := range results {
		r := &results[i]

		s.metrics.ObserveGeneration(metrics.Generation{
			Model:        r.ProviderModel,
			Success:      r.Success(),
			Duration:     r.Duration,
			TTFT:         r.TTFT,
			TPS:          r.TokensPerSecond,
			OutputTokens: r.OutputTokens,
			InputTokens:  r.InputTokens,
		})

		rec := &logging.GenerationRecord{
			Timestamp:       s.now(),
			RequestID:       requestID,
			Operation:       operation,
			ConversationID:  conversationID,
			ModelID:         r.ModelID,
			ProviderModel:   r.ProviderModel,
			Success:         r.Success(),
			TTFTSeconds:     r.TTFT,
			TokensPerSecond: r.TokensPerSecond,
			OutputTokens:    r.OutputTokens,
			InputTokens:     r.InputTokens,
			CachedTokens:    r.CachedInputTokens,
		}
		if i < len(messageIDs) {
			rec.MessageID = messageIDs[i]
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
			s.log.Warn().
				Int64("conversation_id", conversationID).
				Int64("model_id", r.ModelID).
				Str("model", r.ProviderModel).
				Err(r.Err).
				Msg("model call failed")
		}

		if err := s.sink.Enqueue(rec); err != nil {
			s.log.Warn().Err(err).Msg("failed to enqueue generation record")
		}
	}
}
