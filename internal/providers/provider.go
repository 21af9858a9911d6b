package providers

import (
	"context"
	"io"
)

// Turn is one role/content pair sent to a provider. The first turn is the
// system prompt and the last is the new user message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Target identifies where a completion is sent
type Target struct {
	BaseURL string
	APIKey  string // optional bearer credential
	Model   string // provider-side model identifier
}

// CompletionRequest is a normalized streaming chat request
type CompletionRequest struct {
	Target Target
	Turns  []Turn
}

// Usage is the token accounting a provider reports on its final chunk
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
}

// Chunk is one element of a completion stream. Content may be empty, e.g.
// on role-only deltas or on the final usage chunk.
type Chunk struct {
	Content string
	Usage   *Usage
}

// Stream is a lazy sequence of chunks. Recv returns io.EOF once the
// provider finishes.
type Stream interface {
	Recv() (Chunk, error)
	io.Closer
}

// Completer opens streaming chat completions against an endpoint
type Completer interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (Stream, error)
}

// ModelLister enumerates the model ids an endpoint advertises
type ModelLister interface {
	ListModels(ctx context.Context, target Target) ([]string, error)
}
