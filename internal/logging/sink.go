package logging

import (
	"context"
	"time"
)

// GenerationRecord is one model call inside a fan-out round, as written to
// the audit sink.
type GenerationRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id"`
	Operation       string    `json:"operation"`
	ConversationID  int64     `json:"conversation_id"`
	MessageID       int64     `json:"message_id,omitempty"`
	ModelID         int64     `json:"model_id"`
	ProviderModel   string    `json:"provider_model"`
	Success         bool      `json:"success"`
	TTFTSeconds     *float64  `json:"ttft_seconds,omitempty"`
	TokensPerSecond *float64  `json:"tokens_per_second,omitempty"`
	OutputTokens    *int      `json:"output_tokens,omitempty"`
	InputTokens     *int      `json:"input_tokens,omitempty"`
	CachedTokens    *int      `json:"cached_tokens,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Sink receives generation records from the chat service.
type Sink interface {
	Enqueue(rec *GenerationRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *GenerationRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
