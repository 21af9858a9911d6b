package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/metrics"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
)

const (
	modelA int64 = 10
	modelB int64 = 20
)

type recordingMetrics struct {
	metrics.NoopMetrics

	mu          sync.Mutex
	generations []metrics.Generation
	fanOuts     map[string]int
}

func (m *recordingMetrics) ObserveGeneration(g metrics.Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations = append(m.generations, g)
}

func (m *recordingMetrics) ObserveFanOut(operation string, width int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fanOuts == nil {
		m.fanOuts = make(map[string]int)
	}
	m.fanOuts[operation] = width
}

type harness struct {
	store     *fakeStore
	completer *fakeCompleter
	sink      *captureSink
	metrics   *recordingMetrics
	svc       *Service
	conv      *models.Conversation
}

func newHarness(t *testing.T, callTimeout time.Duration) *harness {
	t.Helper()

	clock := newFakeClock()
	h := &harness{
		store:     newFakeStore(),
		completer: newFakeCompleter(clock),
		sink:      &captureSink{},
		metrics:   &recordingMetrics{},
	}

	svc, err := NewService(ServiceConfig{
		Store:       h.store,
		Completer:   h.completer,
		Sink:        h.sink,
		Metrics:     h.metrics,
		CallTimeout: callTimeout,
	})
	require.NoError(t, err)
	svc.collector.now = clock.Now
	h.svc = svc

	h.conv = h.store.addConversation(models.DefaultSystemPrompt)
	h.store.addModel(modelA, 1, "model-a")
	h.store.addModel(modelB, 2, "model-b")
	return h
}

func contents(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func ids(messages []models.Message) []int64 {
	out := make([]int64, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestNewService(t *testing.T) {
	_, err := NewService(ServiceConfig{Completer: newFakeCompleter(nil)})
	assert.Error(t, err)

	_, err = NewService(ServiceConfig{Store: newFakeStore()})
	assert.Error(t, err)

	svc, err := NewService(ServiceConfig{Store: newFakeStore(), Completer: newFakeCompleter(nil)})
	require.NoError(t, err)
	assert.NotNil(t, svc.sink)
	assert.NotNil(t, svc.metrics)
}

func TestRunNewTurnMixedOutcome(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.on("model-a", &script{steps: []step{
		{advance: 200 * time.Millisecond, chunk: providers.Chunk{Content: "4"}},
		{advance: 2800 * time.Millisecond, chunk: providers.Chunk{Usage: &providers.Usage{PromptTokens: 20, CompletionTokens: 5}}},
	}})
	h.completer.fail("model-b", &providers.TransportError{Err: errors.New("dial tcp: connection refused")})

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "You are a helpful assistant.", "2+2?")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "2+2?", messages[0].Content)
	assert.Empty(t, messages[0].GenerationMetadata)

	a := messages[1]
	assert.Equal(t, models.RoleAssistant, a.Role)
	assert.Equal(t, "4", a.Content)
	require.Len(t, a.GenerationMetadata, 1)
	metaA := a.GenerationMetadata[0]
	assert.Equal(t, modelA, metaA.ModelID)
	require.NotNil(t, metaA.TimeToFirstToken)
	assert.InDelta(t, 0.2, *metaA.TimeToFirstToken, 1e-9)
	require.NotNil(t, metaA.OutputTokens)
	assert.Equal(t, 5, *metaA.OutputTokens)
	require.NotNil(t, metaA.InputTokens)
	assert.Equal(t, 20, *metaA.InputTokens)
	require.NotNil(t, metaA.TokensPerSecond)
	assert.InDelta(t, 5/2.8, *metaA.TokensPerSecond, 1e-9)

	b := messages[2]
	assert.Equal(t, "Error: transport error: dial tcp: connection refused", b.Content)
	require.Len(t, b.GenerationMetadata, 1)
	metaB := b.GenerationMetadata[0]
	assert.Equal(t, modelB, metaB.ModelID)
	assert.Nil(t, metaB.TimeToFirstToken)
	assert.Nil(t, metaB.TokensPerSecond)
	assert.Nil(t, metaB.OutputTokens)
	assert.Nil(t, metaB.InputTokens)

	reqs := h.completer.calls("model-a")
	require.Len(t, reqs, 1)
	assert.Equal(t, []providers.Turn{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "2+2?"},
	}, reqs[0].Turns)
	assert.Equal(t, "http://llm.local/v1", reqs[0].Target.BaseURL)
	assert.Equal(t, "key-model-a", reqs[0].Target.APIKey)
}

func TestRunNewTurnContainsPanickingModel(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.on("model-a", &script{steps: []step{{panic: "boom"}}})
	h.completer.reply("model-b", "fine")

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "Error: model call panicked: boom", "fine"}, contents(messages))
	assert.Equal(t, 2, h.store.metadataCount())
}

func TestRunNewTurnAllFail(t *testing.T) {
	h := newHarness(t, 0)
	h.store.addModel(30, 3, "model-c")
	for _, m := range []string{"model-a", "model-b", "model-c"} {
		h.completer.fail(m, &providers.ProviderError{StatusCode: 500, Message: "boom"})
	}

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB, 30}, "", "hello")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, 3, h.store.metadataCount())

	for _, m := range messages[1:] {
		assert.Equal(t, models.RoleAssistant, m.Role)
		assert.Equal(t, "Error: provider returned status 500: boom", m.Content)
		require.Len(t, m.GenerationMetadata, 1)
		assert.Nil(t, m.GenerationMetadata[0].OutputTokens)
		assert.Nil(t, m.GenerationMetadata[0].TokensPerSecond)
	}
}

func TestRunNewTurnPreservesRequestOrder(t *testing.T) {
	h := newHarness(t, 0)
	bDone := make(chan struct{})
	h.completer.on("model-a", &script{steps: []step{{wait: bDone, chunk: providers.Chunk{Content: "slow"}}}})
	h.completer.on("model-b", &script{steps: []step{{chunk: providers.Chunk{Content: "fast"}}}, done: bDone})

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "", "race")
	require.NoError(t, err)
	assert.Equal(t, []string{"race", "slow", "fast"}, contents(messages))
}

func TestRunNewTurnSkipsUnknownModels(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "only me")

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{999, modelA}, "", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "only me"}, contents(messages))
}

func TestRunNewTurnNoModels(t *testing.T) {
	h := newHarness(t, 0)

	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, nil, "", "anyone?")
	require.NoError(t, err)
	assert.Equal(t, []string{"anyone?"}, contents(messages))
}

func TestRunNewTurnConversationNotFound(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "x")

	_, err := h.svc.RunNewTurn(context.Background(), 404, []int64{modelA}, "", "hi")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
	assert.Empty(t, h.completer.calls("model-a"))
}

func TestRunNewTurnResolutionFailureLeavesNoMessage(t *testing.T) {
	h := newHarness(t, 0)
	h.store.modelErr = errors.New("connection reset")

	_, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA}, "", "hi")
	require.Error(t, err)

	messages, err := h.store.ListMessages(context.Background(), h.conv.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRunNewTurnPersistFailureKeepsUserMessage(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "lost")
	h.store.failTx = errors.New("tx failed")

	_, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA}, "", "hi")
	require.Error(t, err)

	messages, err := h.store.ListMessages(context.Background(), h.conv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, contents(messages))
	assert.Zero(t, h.store.metadataCount())
}

func TestRunNewTurnUpdatesSystemPrompt(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "Arr")

	_, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA}, "Talk like a pirate.", "hi")
	require.NoError(t, err)

	conv, err := h.store.GetConversation(context.Background(), h.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Talk like a pirate.", conv.SystemPrompt)

	reqs := h.completer.calls("model-a")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Talk like a pirate.", reqs[0].Turns[0].Content)

	// empty keeps the stored prompt
	_, err = h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA}, "", "again")
	require.NoError(t, err)
	reqs = h.completer.calls("model-a")
	require.Len(t, reqs, 2)
	assert.Equal(t, "Talk like a pirate.", reqs[1].Turns[0].Content)
}

func TestRunNewTurnIsolatesHistoryPerModel(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "a1")
	h.completer.reply("model-b", "b1")

	_, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "", "u1")
	require.NoError(t, err)

	h.completer.reply("model-a", "a2")
	h.completer.reply("model-b", "b2")
	messages, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1", "b1", "u2", "a2", "b2"}, contents(messages))

	sys := providers.Turn{Role: "system", Content: models.DefaultSystemPrompt}
	reqsA := h.completer.calls("model-a")
	require.Len(t, reqsA, 2)
	assert.Equal(t, []providers.Turn{
		sys,
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
	}, reqsA[1].Turns)

	reqsB := h.completer.calls("model-b")
	require.Len(t, reqsB, 2)
	assert.Equal(t, []providers.Turn{
		sys,
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "b1"},
		{Role: "user", Content: "u2"},
	}, reqsB[1].Turns)
}

func TestRunNewTurnTurnStructure(t *testing.T) {
	h := newHarness(t, 0)
	for i := 0; i < 3; i++ {
		h.completer.reply("model-a", "reply")
		h.completer.reply("model-b", "reply")
		_, err := h.svc.RunNewTurn(context.Background(), h.conv.ID, []int64{modelA, modelB}, "", "question")
		require.NoError(t, err)
	}

	for _, model := range []string{"model-a", "model-b"} {
		for _, req := range h.completer.calls(model) {
			require.NotEmpty(t, req.Turns)
			assert.Equal(t, "system", req.Turns[0].Role)
			assert.Equal(t, "user", req.Turns[len(req.Turns)-1].Role)
			for _, turn := range req.Turns[1:] {
				assert.NotEqual(t, "system", turn.Role)
			}
		}
	}
}

func TestRunNewTurnSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.completer.on("model-a", &script{block: true})
	h.completer.reply("model-b", "done anyway")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	messages, err := h.svc.RunNewTurn(ctx, h.conv.ID, []int64{modelA, modelB}, "", "hi")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Contains(t, messages[1].Content, context.DeadlineExceeded.Error())
	assert.Equal(t, "done anyway", messages[2].Content)
}

func TestRunNewTurnReports(t *testing.T) {
	h := newHarness(t, 0)
	h.completer.reply("model-a", "ok")
	h.completer.fail("model-b", &providers.ProviderError{StatusCode: 429, Message: "slow down"})

	ctx := logging.WithRequestID(context.Background(), "req-42")
	messages, err := h.svc.RunNewTurn(ctx, h.conv.ID, []int64{modelA, modelB}, "", "hi")
	require.NoError(t, err)

	records := h.sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, "req-42", records[0].RequestID)
	assert.Equal(t, OperationNewTurn, records[0].Operation)
	assert.Equal(t, h.conv.ID, records[0].ConversationID)
	assert.Equal(t, messages[1].ID, records[0].MessageID)
	assert.True(t, records[0].Success)
	assert.Equal(t, "model-a", records[0].ProviderModel)
	assert.False(t, records[1].Success)
	assert.Contains(t, records[1].Error, "slow down")

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	require.Len(t, h.metrics.generations, 2)
	assert.True(t, h.metrics.generations[0].Success)
	assert.False(t, h.metrics.generations[1].Success)
	assert.Equal(t, 2, h.metrics.fanOuts[OperationNewTurn])
}

// seedRound writes u1, a1, b1, u2, a2, b2 with metadata for the replies
func seedRound(t *testing.T, h *harness) []models.Message {
	t.Helper()
	c := h.conv.ID
	return []models.Message{
		h.store.seed(t, c, models.RoleUser, "u1", 0),
		h.store.seed(t, c, models.RoleAssistant, "a1", modelA),
		h.store.seed(t, c, models.RoleAssistant, "b1", modelB),
		h.store.seed(t, c, models.RoleUser, "u2", 0),
		h.store.seed(t, c, models.RoleAssistant, "a2", modelA),
		h.store.seed(t, c, models.RoleAssistant, "b2", modelB),
	}
}

func TestRunEditAndRegenerate(t *testing.T) {
	h := newHarness(t, 0)
	seeded := seedRound(t, h)
	h.completer.reply("model-a", "a2'")
	h.completer.reply("model-b", "b2'")

	messages, err := h.svc.RunEditAndRegenerate(context.Background(), h.conv.ID, []int64{modelA, modelB}, seeded[3].ID, "u2 edited", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "a1", "b1", "u2 edited", "a2'", "b2'"}, contents(messages))
	assert.Equal(t, ids(seeded[:4]), ids(messages[:4]))
	assert.Equal(t, seeded[3].CreatedAt, messages[3].CreatedAt)
	for _, m := range messages[4:] {
		assert.Greater(t, m.ID, seeded[5].ID)
	}
	// metadata of the dropped replies went with them
	assert.Equal(t, 4, h.store.metadataCount())

	reqs := h.completer.calls("model-a")
	require.Len(t, reqs, 1)
	assert.Equal(t, []providers.Turn{
		{Role: "system", Content: models.DefaultSystemPrompt},
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2 edited"},
	}, reqs[0].Turns)
}

func TestRunEditFirstMessage(t *testing.T) {
	h := newHarness(t, 0)
	seeded := seedRound(t, h)
	h.completer.reply("model-a", "fresh")

	messages, err := h.svc.RunEditAndRegenerate(context.Background(), h.conv.ID, []int64{modelA}, seeded[0].ID, "start over", "Be terse.")
	require.NoError(t, err)
	assert.Equal(t, []string{"start over", "fresh"}, contents(messages))

	reqs := h.completer.calls("model-a")
	require.Len(t, reqs, 1)
	assert.Equal(t, []providers.Turn{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "start over"},
	}, reqs[0].Turns)
}

func TestRunEditAndRegenerateRejects(t *testing.T) {
	h := newHarness(t, 0)
	seeded := seedRound(t, h)

	other := h.store.addConversation(models.DefaultSystemPrompt)
	foreign := h.store.seed(t, other.ID, models.RoleUser, "elsewhere", 0)

	tests := []struct {
		name     string
		convID   int64
		targetID int64
		want     error
	}{
		{"assistant target", h.conv.ID, seeded[1].ID, ErrInvalidTarget},
		{"foreign message", h.conv.ID, foreign.ID, storage.ErrMessageNotFound},
		{"missing message", h.conv.ID, 12345, storage.ErrMessageNotFound},
		{"missing conversation", 12345, seeded[0].ID, storage.ErrConversationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RunEditAndRegenerate(context.Background(), tt.convID, []int64{modelA}, tt.targetID, "new", "")
			assert.ErrorIs(t, err, tt.want)

			messages, err := h.store.ListMessages(context.Background(), h.conv.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, ids(seeded), ids(messages))
		})
	}

	assert.Empty(t, h.completer.calls("model-a"))
	assert.True(t, IsValidationError(ErrInvalidTarget))
}

func TestRunRegenerateSingle(t *testing.T) {
	h := newHarness(t, 0)
	seeded := seedRound(t, h)
	h.completer.on("model-a", &script{steps: []step{
		{advance: 400 * time.Millisecond, chunk: providers.Chunk{Content: "a2 again"}},
		{advance: 600 * time.Millisecond, chunk: providers.Chunk{Usage: &providers.Usage{PromptTokens: 9, CompletionTokens: 6}}},
	}})

	before, err := h.store.GetMessage(context.Background(), seeded[4].ID)
	require.NoError(t, err)
	metaID := before.GenerationMetadata[0].ID

	messages, err := h.svc.RunRegenerateSingle(context.Background(), seeded[4].ID, "")
	require.NoError(t, err)

	assert.Equal(t, ids(seeded), ids(messages))
	assert.Equal(t, []string{"u1", "a1", "b1", "u2", "a2 again", "b2"}, contents(messages))
	assert.Equal(t, 4, h.store.metadataCount())

	meta := messages[4].GenerationMetadata
	require.Len(t, meta, 1)
	assert.Equal(t, metaID, meta[0].ID)
	assert.Equal(t, modelA, meta[0].ModelID)
	require.NotNil(t, meta[0].OutputTokens)
	assert.Equal(t, 6, *meta[0].OutputTokens)
	require.NotNil(t, meta[0].TokensPerSecond)
	assert.InDelta(t, 6/0.6, *meta[0].TokensPerSecond, 1e-9)

	reqs := h.completer.calls("model-a")
	require.Len(t, reqs, 1)
	assert.Equal(t, []providers.Turn{
		{Role: "system", Content: models.DefaultSystemPrompt},
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
	}, reqs[0].Turns)
	assert.Empty(t, h.completer.calls("model-b"))

	records := h.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, OperationRegenerate, records[0].Operation)
	assert.Equal(t, seeded[4].ID, records[0].MessageID)
}

func TestRunRegenerateSingleFailure(t *testing.T) {
	h := newHarness(t, 0)
	seeded := seedRound(t, h)
	h.completer.fail("model-b", &providers.TransportError{Err: errors.New("no route to host")})

	messages, err := h.svc.RunRegenerateSingle(context.Background(), seeded[2].ID, "")
	require.NoError(t, err)
	assert.Equal(t, ids(seeded), ids(messages))
	assert.Equal(t, "Error: transport error: no route to host", messages[2].Content)

	meta := messages[2].GenerationMetadata
	require.Len(t, meta, 1)
	assert.Equal(t, modelB, meta[0].ModelID)
	assert.Nil(t, meta[0].OutputTokens)
	assert.Nil(t, meta[0].TimeToFirstToken)
}

func TestRunRegenerateSingleModelGone(t *testing.T) {
	h := newHarness(t, 0)
	c := h.conv.ID
	h.store.seed(t, c, models.RoleUser, "u1", 0)
	orphan := h.store.seed(t, c, models.RoleAssistant, "old", 999)

	messages, err := h.svc.RunRegenerateSingle(context.Background(), orphan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "old"}, contents(messages))
	assert.Empty(t, h.sink.all())
}

func TestRunRegenerateSingleRejects(t *testing.T) {
	h := newHarness(t, 0)
	c := h.conv.ID
	leading := h.store.seed(t, c, models.RoleAssistant, "greeting", modelA)
	user := h.store.seed(t, c, models.RoleUser, "u1", 0)
	bare := h.store.seed(t, c, models.RoleAssistant, "no metadata", 0)

	tests := []struct {
		name     string
		targetID int64
		want     error
	}{
		{"user target", user.ID, ErrInvalidTarget},
		{"no metadata", bare.ID, ErrMissingMetadata},
		{"no preceding user", leading.ID, ErrNoPrecedingUserMessage},
		{"missing message", 12345, storage.ErrMessageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RunRegenerateSingle(context.Background(), tt.targetID, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, h.completer.calls("model-a"))
	assert.True(t, IsValidationError(ErrMissingMetadata))
	assert.True(t, IsValidationError(ErrNoPrecedingUserMessage))
	assert.False(t, IsValidationError(storage.ErrMessageNotFound))
}
