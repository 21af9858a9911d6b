package httpapi

import (
	"context"
	"net/http"
	"strings"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
	"llm_evaluator/internal/utils"
)

// CreateProviderRequest represents the request to register a provider
type CreateProviderRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// ProviderResponse is a provider without its credential
type ProviderResponse struct {
	*models.Provider
	HasAPIKey bool `json:"has_api_key"`
}

func newProviderResponse(p *models.Provider) ProviderResponse {
	return ProviderResponse{Provider: p, HasAPIKey: p.HasAPIKey()}
}

// SyncModelsResponse reports how many model ids a sync registered
type SyncModelsResponse struct {
	Status string `json:"status"`
	Added  int    `json:"added"`
}

// handleCreateProvider handles POST /api/providers/
func (d *Dependencies) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.BaseURL = strings.TrimSpace(req.BaseURL)
	if req.Name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Provider name is required")
		return
	}
	if req.BaseURL == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Provider base_url is required")
		return
	}

	provider := &models.Provider{Name: req.Name, BaseURL: req.BaseURL, APIKey: req.APIKey}
	if err := d.Store.CreateProvider(r.Context(), provider); err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, newProviderResponse(provider))
}

// handleListProviders handles GET /api/providers/
func (d *Dependencies) handleListProviders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := d.Store.ListProviders(r.Context(), page)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	resp := make([]ProviderResponse, len(list))
	for i, p := range list {
		resp[i] = newProviderResponse(p)
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// handleDeleteProvider handles DELETE /api/providers/{id}
func (d *Dependencies) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := d.Store.DeleteProvider(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, newProviderResponse(provider))
}

// handleSyncModels handles POST /api/providers/{id}/sync_models. Every model
// id the endpoint lists that the provider does not have yet is registered
// enabled, non-reasoning, with its id as display name.
func (d *Dependencies) handleSyncModels(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := d.Store.GetProvider(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	ctx := r.Context()
	if d.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.SyncTimeout)
		defer cancel()
	}

	ids, err := d.Models.ListModels(ctx, providers.Target{BaseURL: provider.Endpoint(), APIKey: provider.APIKey})
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to fetch models: "+err.Error())
		return
	}

	added, err := d.Store.AddMissingModels(r.Context(), provider.ID, ids)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, SyncModelsResponse{Status: "success", Added: added})
}

// pageFromQuery reads skip and limit; zero or missing limit means the default
func pageFromQuery(r *http.Request) (storage.Page, error) {
	skip, err := utils.QueryInt(r, "skip", 0)
	if err != nil {
		return storage.Page{}, err
	}
	limit, err := utils.QueryInt(r, "limit", storage.DefaultPageLimit)
	if err != nil {
		return storage.Page{}, err
	}
	return storage.Page{Skip: skip, Limit: limit}, nil
}
