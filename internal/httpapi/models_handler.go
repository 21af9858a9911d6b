package httpapi

import (
	"net/http"
	"strings"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/utils"
)

// CreateModelRequest represents the request to register a model
type CreateModelRequest struct {
	ProviderID  int64  `json:"provider_id"`
	ModelID     string `json:"model_id"`
	Name        string `json:"name"`
	IsReasoning bool   `json:"is_reasoning"`
	Enabled     *bool  `json:"enabled,omitempty"` // defaults to true
}

// handleCreateModel handles POST /api/models/
func (d *Dependencies) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req CreateModelRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.ModelID = strings.TrimSpace(req.ModelID)
	if req.ProviderID <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "provider_id is required")
		return
	}
	if req.ModelID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	model := &models.Model{
		ProviderID:  req.ProviderID,
		ModelID:     req.ModelID,
		Name:        req.Name,
		IsReasoning: req.IsReasoning,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	model.Name = model.DisplayName()

	if err := d.Store.CreateModel(r.Context(), model); err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, model)
}

// handleListModels handles GET /api/models/
func (d *Dependencies) handleListModels(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := d.Store.ListModels(r.Context(), page)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, list)
}

// handleDeleteModel handles DELETE /api/models/{id}
func (d *Dependencies) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	model, err := d.Store.DeleteModel(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, model)
}

// handleToggleModel handles PUT /api/models/{id}/toggle
func (d *Dependencies) handleToggleModel(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	model, err := d.Store.ToggleModel(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, model)
}
