package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"llm_evaluator/internal/models"
)

const modelColumns = `id, provider_id, model_id, name, is_reasoning, enabled`

// ModelRepository handles model database operations with caching
type ModelRepository struct {
	q     sqlx.ExtContext
	cache *LRUCache[int64, *models.Model]
}

func newModelRepository(q sqlx.ExtContext, cache *LRUCache[int64, *models.Model]) *ModelRepository {
	return &ModelRepository{q: q, cache: cache}
}

// GetByID retrieves a model by ID (with caching)
func (r *ModelRepository) GetByID(ctx context.Context, id int64) (*models.Model, error) {
	if cached, found := r.cache.Get(id); found {
		m := *cached
		return &m, nil
	}

	var model models.Model
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`

	if err := sqlx.GetContext(ctx, r.q, &model, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	cached := model
	r.cache.Set(id, &cached)

	return &model, nil
}

// List returns models ordered by id
func (r *ModelRepository) List(ctx context.Context, page Page) ([]*models.Model, error) {
	page = page.normalize()
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY id LIMIT $1 OFFSET $2`

	result := []*models.Model{}
	if err := sqlx.SelectContext(ctx, r.q, &result, query, page.Limit, page.Skip); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	return result, nil
}

// ListByProvider returns every model registered under a provider
func (r *ModelRepository) ListByProvider(ctx context.Context, providerID int64) ([]*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE provider_id = $1 ORDER BY id`

	result := []*models.Model{}
	if err := sqlx.SelectContext(ctx, r.q, &result, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list models for provider %d: %w", providerID, err)
	}

	return result, nil
}

// Create inserts a model. The provider must exist.
func (r *ModelRepository) Create(ctx context.Context, model *models.Model) error {
	query := `
		INSERT INTO models (provider_id, model_id, name, is_reasoning, enabled)
		SELECT $1::bigint, $2::text, $3::text, $4::boolean, $5::boolean
		WHERE EXISTS (SELECT 1 FROM providers WHERE id = $1)
		RETURNING id
	`

	err := r.q.QueryRowxContext(ctx, query,
		model.ProviderID, model.ModelID, model.Name, model.IsReasoning, model.Enabled,
	).Scan(&model.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("failed to create model: %w", err)
	}

	return nil
}

// AddMissing registers every provider-side id not yet known for providerID,
// using the id as display name. Returns how many rows were added.
func (r *ModelRepository) AddMissing(ctx context.Context, providerID int64, modelIDs []string) (int, error) {
	query := `
		INSERT INTO models (provider_id, model_id, name, is_reasoning, enabled)
		SELECT $1::bigint, $2::text, $2::text, FALSE, TRUE
		WHERE NOT EXISTS (
			SELECT 1 FROM models WHERE provider_id = $1 AND model_id = $2
		)
	`

	added := 0
	seen := make(map[string]struct{}, len(modelIDs))
	for _, id := range modelIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		result, err := r.q.ExecContext(ctx, query, providerID, id)
		if err != nil {
			return added, fmt.Errorf("failed to add model %q: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return added, fmt.Errorf("failed to get rows affected: %w", err)
		}
		added += int(rows)
	}

	return added, nil
}

// ToggleEnabled flips the enabled flag and returns the updated model
func (r *ModelRepository) ToggleEnabled(ctx context.Context, id int64) (*models.Model, error) {
	var model models.Model
	query := `UPDATE models SET enabled = NOT enabled WHERE id = $1 RETURNING ` + modelColumns

	if err := sqlx.GetContext(ctx, r.q, &model, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to toggle model: %w", err)
	}

	r.cache.Delete(id)
	return &model, nil
}

// Delete removes a model; metadata rows that reference it cascade
func (r *ModelRepository) Delete(ctx context.Context, id int64) (*models.Model, error) {
	var model models.Model
	query := `DELETE FROM models WHERE id = $1 RETURNING ` + modelColumns

	if err := sqlx.GetContext(ctx, r.q, &model, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to delete model: %w", err)
	}

	r.cache.Delete(id)
	return &model, nil
}
