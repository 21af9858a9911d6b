package httpapi

import (
	"net/http"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/utils"
)

// CreateConversationRequest represents the request to start a conversation.
// Empty fields take the defaults.
type CreateConversationRequest struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
}

// CreateMessageRequest appends a message without running any model
type CreateMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// StatusResponse is the body of endpoints with nothing else to return
type StatusResponse struct {
	Status string `json:"status"`
}

// handleCreateConversation handles POST /api/conversations/
func (d *Dependencies) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := &models.Conversation{Title: req.Title, SystemPrompt: req.SystemPrompt}
	if err := d.Store.CreateConversation(r.Context(), conv); err != nil {
		respondWithStoreError(w, r, err)
		return
	}
	conv.Messages = []models.Message{}

	utils.RespondWithJSON(w, http.StatusOK, conv)
}

// handleListConversations handles GET /api/conversations/, newest first
func (d *Dependencies) handleListConversations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := d.Store.ListConversations(r.Context(), page)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}
	for _, conv := range list {
		if conv.Messages == nil {
			conv.Messages = []models.Message{}
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, list)
}

// handleGetConversation handles GET /api/conversations/{id}
func (d *Dependencies) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := d.Store.GetConversation(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation handles DELETE /api/conversations/{id}. Messages
// and their metadata cascade.
func (d *Dependencies) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, err := d.Locker.Acquire(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}
	defer release()

	if err := d.Store.DeleteConversation(r.Context(), id); err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: "success"})
}

// handleCreateMessage handles POST /api/messages/
func (d *Dependencies) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ConversationID <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, err := d.Locker.Acquire(r.Context(), req.ConversationID)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}
	defer release()

	msg, err := d.Store.CreateMessage(r.Context(), req.ConversationID, role, req.Content)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, msg)
}
