package httpapi

import (
	"errors"
	"net/http"

	"llm_evaluator/internal/chat"
	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/storage"
	"llm_evaluator/internal/utils"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrProviderNotFound),
		errors.Is(err, storage.ErrModelNotFound),
		errors.Is(err, storage.ErrConversationNotFound),
		errors.Is(err, storage.ErrMessageNotFound):
		return http.StatusNotFound
	case chat.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrConversationBusy),
		errors.Is(err, storage.ErrProviderExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithStoreError writes err with its mapped status. Internal errors
// are logged and hidden from the caller.
func respondWithStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Errorf("%s %s failed: %v request_id=%s", r.Method, r.URL.Path, err, logging.RequestID(r.Context()))
		utils.RespondWithError(w, status, "Internal server error")
		return
	}
	utils.RespondWithError(w, status, err.Error())
}
