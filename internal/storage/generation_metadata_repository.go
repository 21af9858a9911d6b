package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"llm_evaluator/internal/models"
)

const metadataColumns = `id, message_id, model_id, time_to_first_token, tokens_per_second,
	output_tokens, input_tokens, cached_input_tokens`

// GenerationMetadataRepository handles generation metadata rows
type GenerationMetadataRepository struct {
	q sqlx.ExtContext
}

func newGenerationMetadataRepository(q sqlx.ExtContext) *GenerationMetadataRepository {
	return &GenerationMetadataRepository{q: q}
}

// ListByMessages returns metadata grouped by message id
func (r *GenerationMetadataRepository) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.GenerationMetadata, error) {
	grouped := make(map[int64][]models.GenerationMetadata, len(messageIDs))
	if len(messageIDs) == 0 {
		return grouped, nil
	}

	query := `SELECT ` + metadataColumns + ` FROM generation_metadata WHERE message_id = ANY($1) ORDER BY id`

	var rows []models.GenerationMetadata
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, pq.Array(messageIDs)); err != nil {
		return nil, fmt.Errorf("failed to list generation metadata: %w", err)
	}

	for _, row := range rows {
		grouped[row.MessageID] = append(grouped[row.MessageID], row)
	}
	return grouped, nil
}

// Insert adds a metadata row and fills meta.ID
func (r *GenerationMetadataRepository) Insert(ctx context.Context, meta *models.GenerationMetadata) error {
	query := `
		INSERT INTO generation_metadata (message_id, model_id, time_to_first_token, tokens_per_second,
		                                 output_tokens, input_tokens, cached_input_tokens)
		VALUES (:message_id, :model_id, :time_to_first_token, :tokens_per_second,
		        :output_tokens, :input_tokens, :cached_input_tokens)
		RETURNING id
	`

	rows, err := sqlx.NamedQueryContext(ctx, r.q, query, meta)
	if err != nil {
		return fmt.Errorf("failed to insert generation metadata: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to insert generation metadata: %w", err)
		}
		return fmt.Errorf("failed to insert generation metadata: no id returned")
	}
	return rows.Scan(&meta.ID)
}

// Update overwrites the model and metrics of an existing row
func (r *GenerationMetadataRepository) Update(ctx context.Context, meta *models.GenerationMetadata) error {
	query := `
		UPDATE generation_metadata
		SET model_id = :model_id,
		    time_to_first_token = :time_to_first_token,
		    tokens_per_second = :tokens_per_second,
		    output_tokens = :output_tokens,
		    input_tokens = :input_tokens,
		    cached_input_tokens = :cached_input_tokens
		WHERE id = :id
	`

	result, err := sqlx.NamedExecContext(ctx, r.q, query, meta)
	if err != nil {
		return fmt.Errorf("failed to update generation metadata: %w", err)
	}

	return requireAffected(result, ErrMetadataNotFound)
}
