package chat

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
)

// fakeClock is shared by the collector and the fake streams so timing is
// deterministic
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore is an in-memory Store. Every insert gets a timestamp one second
// after the previous one.
type fakeStore struct {
	mu sync.Mutex

	clock    time.Time
	nextID   int64
	convs    map[int64]*models.Conversation
	msgs     []models.Message
	meta     []models.GenerationMetadata
	models   map[int64]*models.Model
	provs    map[int64]*models.Provider
	txCount  int
	failTx   error
	modelErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		convs:  make(map[int64]*models.Conversation),
		models: make(map[int64]*models.Model),
		provs:  make(map[int64]*models.Provider),
	}
}

func (s *fakeStore) tick() (int64, time.Time) {
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	return s.nextID, s.clock
}

func (s *fakeStore) addConversation(prompt string) *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ts := s.tick()
	conv := &models.Conversation{ID: id, Title: models.DefaultConversationTitle, SystemPrompt: prompt, CreatedAt: ts}
	s.convs[id] = conv
	return conv
}

func (s *fakeStore) addModel(id, providerID int64, providerModel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.provs[providerID]; !ok {
		s.provs[providerID] = &models.Provider{ID: providerID, Name: providerModel + "-host", BaseURL: "http://llm.local/v1/", APIKey: "key-" + providerModel}
	}
	s.models[id] = &models.Model{ID: id, ProviderID: providerID, ModelID: providerModel, Name: providerModel, Enabled: true}
}

// seed appends a message; a non-zero modelID attaches a metadata row
func (s *fakeStore) seed(t *testing.T, convID int64, role models.Role, content string, modelID int64) models.Message {
	t.Helper()
	msg, err := s.InsertMessage(context.Background(), convID, role, content)
	require.NoError(t, err)
	if modelID != 0 {
		tokens := 3
		require.NoError(t, s.InsertGenerationMetadata(context.Background(), &models.GenerationMetadata{
			MessageID:    msg.ID,
			ModelID:      modelID,
			OutputTokens: &tokens,
		}))
	}
	return *msg
}

func (s *fakeStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (s *fakeStore) UpdateConversationSystemPrompt(ctx context.Context, id int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return storage.ErrConversationNotFound
	}
	conv.SystemPrompt = prompt
	return nil
}

func (s *fakeStore) withMetadata(msg models.Message) models.Message {
	msg.GenerationMetadata = []models.GenerationMetadata{}
	for _, m := range s.meta {
		if m.MessageID == msg.ID {
			msg.GenerationMetadata = append(msg.GenerationMetadata, m)
		}
	}
	return msg
}

func (s *fakeStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			msg := s.withMetadata(m)
			return &msg, nil
		}
	}
	return nil, storage.ErrMessageNotFound
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID int64, before *time.Time) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, s.withMetadata(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return nil, storage.ErrConversationNotFound
	}
	id, ts := s.tick()
	msg := models.Message{ID: id, ConversationID: conversationID, Role: role, Content: content, CreatedAt: ts}
	s.msgs = append(s.msgs, msg)
	msg.GenerationMetadata = []models.GenerationMetadata{}
	return &msg, nil
}

func (s *fakeStore) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs[i].Content = content
			return nil
		}
	}
	return storage.ErrMessageNotFound
}

func (s *fakeStore) DeleteMessagesAfter(ctx context.Context, conversationID int64, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0:0]
	removed := map[int64]bool{}
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.CreatedAt.After(t) {
			removed[m.ID] = true
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept

	keptMeta := s.meta[:0:0]
	for _, m := range s.meta {
		if !removed[m.MessageID] {
			keptMeta = append(keptMeta, m)
		}
	}
	s.meta = keptMeta
	return int64(len(removed)), nil
}

func (s *fakeStore) InsertGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := s.tick()
	meta.ID = id
	s.meta = append(s.meta, *meta)
	return nil
}

func (s *fakeStore) UpdateGenerationMetadata(ctx context.Context, meta *models.GenerationMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.meta {
		if s.meta[i].ID == meta.ID {
			s.meta[i] = *meta
			return nil
		}
	}
	return storage.ErrMetadataNotFound
}

func (s *fakeStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modelErr != nil {
		return nil, s.modelErr
	}
	m, ok := s.models[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}
	c := *m
	return &c, nil
}

func (s *fakeStore) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.provs[id]
	if !ok {
		return nil, storage.ErrProviderNotFound
	}
	c := *p
	return &c, nil
}

// WithinTx restores the message and metadata tables when fn fails
func (s *fakeStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	s.txCount++
	if s.failTx != nil {
		s.mu.Unlock()
		return s.failTx
	}
	msgs := append([]models.Message(nil), s.msgs...)
	meta := append([]models.GenerationMetadata(nil), s.meta...)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.msgs, s.meta = msgs, meta
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) metadataCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meta)
}

// step is one Recv outcome of a fake stream. The clock advances before the
// chunk is delivered; wait blocks until the channel is closed.
type step struct {
	advance time.Duration
	wait    <-chan struct{}
	chunk   providers.Chunk
	err     error
	panic   string
}

type script struct {
	openErr error
	steps   []step
	// block makes Recv wait for the call context to end
	block bool
	// done is closed once the stream reports EOF
	done chan struct{}
}

type fakeCompleter struct {
	mu       sync.Mutex
	clock    *fakeClock
	scripts  map[string]*script
	requests map[string][]providers.CompletionRequest
}

func newFakeCompleter(clock *fakeClock) *fakeCompleter {
	return &fakeCompleter{
		clock:    clock,
		scripts:  make(map[string]*script),
		requests: make(map[string][]providers.CompletionRequest),
	}
}

func (c *fakeCompleter) on(model string, s *script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[model] = s
}

// reply scripts a successful answer without usage
func (c *fakeCompleter) reply(model, content string) {
	c.on(model, &script{steps: []step{{advance: 100 * time.Millisecond, chunk: providers.Chunk{Content: content}}}})
}

func (c *fakeCompleter) fail(model string, err error) {
	c.on(model, &script{openErr: err})
}

func (c *fakeCompleter) calls(model string) []providers.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]providers.CompletionRequest(nil), c.requests[model]...)
}

func (c *fakeCompleter) StreamCompletion(ctx context.Context, req providers.CompletionRequest) (providers.Stream, error) {
	c.mu.Lock()
	c.requests[req.Target.Model] = append(c.requests[req.Target.Model], req)
	s, ok := c.scripts[req.Target.Model]
	c.mu.Unlock()

	if !ok {
		return nil, &providers.ProviderError{StatusCode: 404, Message: "model not scripted"}
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeStream{ctx: ctx, clock: c.clock, script: s}, nil
}

type fakeStream struct {
	ctx    context.Context
	clock  *fakeClock
	script *script
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (providers.Chunk, error) {
	if s.script.block {
		<-s.ctx.Done()
		return providers.Chunk{}, &providers.TransportError{Err: s.ctx.Err()}
	}
	if s.pos >= len(s.script.steps) {
		if s.script.done != nil {
			close(s.script.done)
			s.script.done = nil
		}
		return providers.Chunk{}, io.EOF
	}
	st := s.script.steps[s.pos]
	s.pos++
	if st.wait != nil {
		<-st.wait
	}
	if st.advance > 0 && s.clock != nil {
		s.clock.Advance(st.advance)
	}
	if st.panic != "" {
		panic(st.panic)
	}
	if st.err != nil {
		return providers.Chunk{}, st.err
	}
	return st.chunk, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// captureSink keeps every record it receives
type captureSink struct {
	mu      sync.Mutex
	records []*logging.GenerationRecord
}

func (s *captureSink) Enqueue(rec *logging.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) Shutdown(ctx context.Context) error { return nil }

func (s *captureSink) all() []*logging.GenerationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*logging.GenerationRecord(nil), s.records...)
}
