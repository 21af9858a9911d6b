package httpapi

import (
	"context"
	"net/http"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/utils"
)

// ChatRunner runs the conversation mutation protocols; *chat.Service is the
// production implementation
type ChatRunner interface {
	RunNewTurn(ctx context.Context, conversationID int64, modelIDs []int64, systemPrompt, userContent string) ([]models.Message, error)
	RunEditAndRegenerate(ctx context.Context, conversationID int64, modelIDs []int64, targetMessageID int64, newContent, systemPrompt string) ([]models.Message, error)
	RunRegenerateSingle(ctx context.Context, targetMessageID int64, systemPrompt string) ([]models.Message, error)
}

// ChatRequest sends a new user message to every model in ModelsToUse.
// An empty SystemPrompt keeps the conversation's stored prompt; any other
// value replaces it before the models are called. The same holds for
// EditRequest and RegenerateRequest.
type ChatRequest struct {
	ConversationID int64   `json:"conversation_id"`
	ModelsToUse    []int64 `json:"models_to_use"`
	SystemPrompt   string  `json:"system_prompt"`
	Message        string  `json:"message"`
}

// EditRequest rewrites a user message and replays the conversation from it
type EditRequest struct {
	ConversationID int64   `json:"conversation_id"`
	ModelsToUse    []int64 `json:"models_to_use"`
	MessageID      int64   `json:"message_id"`
	Message        string  `json:"message"`
	SystemPrompt   string  `json:"system_prompt"`
}

// RegenerateRequest reruns the model behind one assistant message
type RegenerateRequest struct {
	MessageID    int64  `json:"message_id"`
	SystemPrompt string `json:"system_prompt"`
}

// handleChat handles POST /api/chat/
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if req.Message == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	d.withConversationLock(w, r, req.ConversationID, func(ctx context.Context) ([]models.Message, error) {
		return d.Chat.RunNewTurn(ctx, req.ConversationID, req.ModelsToUse, req.SystemPrompt, req.Message)
	})
}

// handleEdit handles POST /api/chat/edit
func (d *Dependencies) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID <= 0 || req.MessageID <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "conversation_id and message_id are required")
		return
	}
	if req.Message == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	d.withConversationLock(w, r, req.ConversationID, func(ctx context.Context) ([]models.Message, error) {
		return d.Chat.RunEditAndRegenerate(ctx, req.ConversationID, req.ModelsToUse, req.MessageID, req.Message, req.SystemPrompt)
	})
}

// handleRegenerate handles POST /api/chat/regenerate
func (d *Dependencies) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MessageID <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	// The lock is keyed by conversation, so resolve it first
	target, err := d.Store.GetMessage(r.Context(), req.MessageID)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	d.withConversationLock(w, r, target.ConversationID, func(ctx context.Context) ([]models.Message, error) {
		return d.Chat.RunRegenerateSingle(ctx, req.MessageID, req.SystemPrompt)
	})
}

// withConversationLock runs fn while holding the conversation's lock and
// writes the resulting message list
func (d *Dependencies) withConversationLock(w http.ResponseWriter, r *http.Request, conversationID int64, fn func(ctx context.Context) ([]models.Message, error)) {
	release, err := d.Locker.Acquire(r.Context(), conversationID)
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}
	defer release()

	messages, err := fn(r.Context())
	if err != nil {
		respondWithStoreError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, messages)
}
