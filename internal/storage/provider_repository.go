package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"llm_evaluator/internal/models"
)

const providerColumns = `id, name, base_url, encrypted_api_key, created_at`

// ProviderRepository handles provider database operations. Providers
// returned by GetByID carry their decrypted API key.
type ProviderRepository struct {
	q     sqlx.ExtContext
	enc   *Encryption
	cache *LRUCache[int64, *models.Provider]

	// cleared on delete since the provider's models cascade with it
	modelCache *LRUCache[int64, *models.Model]
}

func newProviderRepository(q sqlx.ExtContext, enc *Encryption, cache *LRUCache[int64, *models.Provider], modelCache *LRUCache[int64, *models.Model]) *ProviderRepository {
	return &ProviderRepository{q: q, enc: enc, cache: cache, modelCache: modelCache}
}

// GetByID retrieves a provider by ID (with caching)
func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*models.Provider, error) {
	if cached, found := r.cache.Get(id); found {
		p := *cached
		return &p, nil
	}

	var provider models.Provider
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`

	if err := sqlx.GetContext(ctx, r.q, &provider, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	apiKey, err := r.enc.DecryptString(provider.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key for provider %d: %w", id, err)
	}
	provider.APIKey = apiKey

	cached := provider
	r.cache.Set(id, &cached)

	return &provider, nil
}

// List returns providers ordered by id
func (r *ProviderRepository) List(ctx context.Context, page Page) ([]*models.Provider, error) {
	page = page.normalize()
	query := `SELECT ` + providerColumns + ` FROM providers ORDER BY id LIMIT $1 OFFSET $2`

	providers := []*models.Provider{}
	if err := sqlx.SelectContext(ctx, r.q, &providers, query, page.Limit, page.Skip); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	return providers, nil
}

// Create seals the provider's plaintext APIKey and inserts the row
func (r *ProviderRepository) Create(ctx context.Context, provider *models.Provider) error {
	sealed, err := r.enc.EncryptString(provider.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	provider.EncryptedAPIKey = sealed

	query := `
		INSERT INTO providers (name, base_url, encrypted_api_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err = r.q.QueryRowxContext(ctx, query, provider.Name, provider.BaseURL, provider.EncryptedAPIKey).
		Scan(&provider.ID, &provider.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("provider %q: %w", provider.Name, ErrProviderExists)
		}
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return nil
}

// Delete removes a provider; its models and their metadata cascade
func (r *ProviderRepository) Delete(ctx context.Context, id int64) (*models.Provider, error) {
	var provider models.Provider
	query := `DELETE FROM providers WHERE id = $1 RETURNING ` + providerColumns

	if err := sqlx.GetContext(ctx, r.q, &provider, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to delete provider: %w", err)
	}

	r.cache.Delete(id)
	r.modelCache.Clear()
	return &provider, nil
}
