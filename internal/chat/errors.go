package chat

import "errors"

var (
	// ErrInvalidTarget is returned when the target message has the wrong role
	ErrInvalidTarget = errors.New("invalid target message")

	// ErrMissingMetadata is returned when an assistant message has no
	// generation metadata naming its model
	ErrMissingMetadata = errors.New("target message has no generation metadata")

	// ErrNoPrecedingUserMessage is returned when regenerate finds no user
	// message before the target
	ErrNoPrecedingUserMessage = errors.New("no preceding user message")

	// ErrCompleterPanic wraps a panic recovered from a model call
	ErrCompleterPanic = errors.New("model call panicked")
)
