package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
)

// charsPerToken approximates output tokens when the provider reports no usage
const charsPerToken = 4

// Call is one fully resolved model call. It is immutable once built and
// safe to hand to a goroutine.
type Call struct {
	ModelID int64
	Target  providers.Target
	Turns   []providers.Turn
}

// Result is the outcome of one Call. A failed call has Err set, Content
// holding the error text and every metric nil.
type Result struct {
	ModelID       int64
	ProviderModel string
	Content       string
	Duration      time.Duration

	TTFT              *float64
	TokensPerSecond   *float64
	OutputTokens      *int
	InputTokens       *int
	CachedInputTokens *int

	Err error
}

// Success reports whether the call completed without error
func (r *Result) Success() bool {
	return r.Err == nil
}

// Metadata builds the metadata row recording r against messageID
func (r *Result) Metadata(messageID int64) *models.GenerationMetadata {
	return &models.GenerationMetadata{
		MessageID:         messageID,
		ModelID:           r.ModelID,
		TimeToFirstToken:  r.TTFT,
		TokensPerSecond:   r.TokensPerSecond,
		OutputTokens:      r.OutputTokens,
		InputTokens:       r.InputTokens,
		CachedInputTokens: r.CachedInputTokens,
	}
}

// Collector drives one streaming call to completion and measures it
type Collector struct {
	completer Completer
	timeout   time.Duration
	now       func() time.Time
}

// NewCollector creates a collector. A positive timeout bounds every call.
func NewCollector(completer Completer, timeout time.Duration) *Collector {
	return &Collector{completer: completer, timeout: timeout, now: time.Now}
}

// Collect never returns an error: failures, including a panic in the
// completer, are folded into the Result
func (c *Collector) Collect(ctx context.Context, call Call) (result Result) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := c.now()
	defer func() {
		if p := recover(); p != nil {
			result = c.failure(call, start, fmt.Errorf("%w: %v", ErrCompleterPanic, p))
		}
	}()

	stream, err := c.completer.StreamCompletion(ctx, providers.CompletionRequest{
		Target: call.Target,
		Turns:  call.Turns,
	})
	if err != nil {
		return c.failure(call, start, err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		ttft    *float64
		usage   *providers.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.failure(call, start, err)
		}

		if chunk.Content != "" {
			if ttft == nil {
				first := c.now().Sub(start).Seconds()
				ttft = &first
			}
			content.WriteString(chunk.Content)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	elapsed := c.now().Sub(start)
	text := content.String()

	result = Result{
		ModelID:       call.ModelID,
		ProviderModel: call.Target.Model,
		Content:       text,
		Duration:      elapsed,
		TTFT:          ttft,
	}

	outputTokens := utf8.RuneCountInString(text) / charsPerToken
	if usage != nil {
		outputTokens = usage.CompletionTokens
		input, cached := usage.PromptTokens, usage.CachedTokens
		result.InputTokens = &input
		result.CachedInputTokens = &cached
	}
	result.OutputTokens = &outputTokens

	tps := Throughput(outputTokens, elapsed.Seconds(), ttft)
	result.TokensPerSecond = &tps

	return result
}

func (c *Collector) failure(call Call, start time.Time, err error) Result {
	return Result{
		ModelID:       call.ModelID,
		ProviderModel: call.Target.Model,
		Content:       "Error: " + err.Error(),
		Duration:      c.now().Sub(start),
		Err:           err,
	}
}

// Throughput is tokens / (total - ttft) with a missing ttft counted as 0.
// It is 0 whenever the generation window is empty, and never negative,
// NaN or infinite.
func Throughput(tokens int, total float64, ttft *float64) float64 {
	var first float64
	if ttft != nil {
		first = *ttft
	}

	window := total - first
	if window <= 0 || tokens <= 0 {
		return 0
	}

	tps := float64(tokens) / window
	if math.IsInf(tps, 0) || math.IsNaN(tps) {
		return 0
	}
	return tps
}
