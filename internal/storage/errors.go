package storage

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrProviderNotFound is returned when a provider is not found
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderExists is returned when a provider name is already taken
	ErrProviderExists = errors.New("provider already exists")

	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrConversationNotFound is returned when a conversation is not found
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message is not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrMetadataNotFound is returned when a generation metadata row is not found
	ErrMetadataNotFound = errors.New("generation metadata not found")

	// ErrConversationBusy is returned when another turn holds the conversation lock
	ErrConversationBusy = errors.New("conversation is busy")
)

// isForeignKeyViolation reports a Postgres 23503 error
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// isUniqueViolation reports a Postgres 23505 error
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
