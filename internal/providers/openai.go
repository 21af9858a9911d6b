package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Placeholder bearer sent when a provider has no key; most local
// OpenAI-compatible servers reject an empty Authorization header.
const emptyAPIKey = "EMPTY"

// ClientConfig tunes the shared HTTP transport
type ClientConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultClientConfig returns transport defaults suited to long streams
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}

// OpenAIClient talks to any OpenAI-compatible endpoint. One instance is
// shared by all providers; the target travels with each request.
type OpenAIClient struct {
	httpClient *http.Client
}

// NewOpenAIClient creates a client with its own pooled transport. There is
// no overall client timeout: streams are bounded by the caller's context.
func NewOpenAIClient(cfg ClientConfig) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          cfg.MaxIdleConns,
				MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:       cfg.IdleConnTimeout,
				ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			},
		},
	}
}

func (c *OpenAIClient) clientFor(target Target) *openai.Client {
	apiKey := target.APIKey
	if apiKey == "" {
		apiKey = emptyAPIKey
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(target.BaseURL, "/")
	cfg.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(cfg)
}

// StreamCompletion opens a streaming chat completion and asks the provider
// to report usage on the final chunk.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, req CompletionRequest) (Stream, error) {
	if req.Target.BaseURL == "" {
		return nil, &TransportError{Err: errors.New("provider base URL is empty")}
	}
	if len(req.Turns) == 0 {
		return nil, &ProviderError{Message: "no messages to send"}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, turn := range req.Turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	stream, err := c.clientFor(req.Target).CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Target.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	return &openAIStream{stream: stream}, nil
}

// ListModels returns the ids advertised by GET {base}/models
func (c *OpenAIClient) ListModels(ctx context.Context, target Target) ([]string, error) {
	list, err := c.clientFor(target).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", classifyError(err))
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// Close releases idle connections
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	events int
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		// A bare [DONE] is a valid empty reply; an HTML or JSON page that
		// happened to end cleanly is not
		if s.events == 0 && !isEventStream(s.stream.Header()) {
			return Chunk{}, &ProviderError{Message: noDataEvents}
		}
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, classifyError(err)
	}
	s.events++

	var chunk Chunk
	if len(resp.Choices) > 0 {
		chunk.Content = resp.Choices[0].Delta.Content
	}
	if resp.Usage != nil {
		chunk.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
		if resp.Usage.PromptTokensDetails != nil {
			chunk.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}
	return chunk, nil
}

func isEventStream(header http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
