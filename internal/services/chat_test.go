package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parallax-connect/internal/models"
)

type memHistory struct {
	mu       sync.Mutex
	messages []models.Message
	saveErr  error
}

func (h *memHistory) GetHistory(ctx context.Context) ([]models.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Message, len(h.messages))
	copy(out, h.messages)
	return out, nil
}

func (h *memHistory) SaveMessage(ctx context.Context, m models.Message) error {
	if h.saveErr != nil {
		return h.saveErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	return nil
}

func (h *memHistory) ClearHistory(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	return nil
}

func (h *memHistory) ReplaceHistory(ctx context.Context, messages []models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]models.Message, len(messages))
	copy(h.messages, messages)
	return nil
}

func (h *memHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

type memSessions struct {
	mu       sync.Mutex
	archived []*models.ChatSession
	updated  map[uuid.UUID][]models.Message
}

func newMemSessions() *memSessions {
	return &memSessions{updated: make(map[uuid.UUID][]models.Message)}
}

func (s *memSessions) Archive(ctx context.Context, messages []models.Message, title string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &models.ChatSession{
		ID:       uuid.New(),
		Title:    title,
		Messages: messages,
	}
	s.archived = append(s.archived, session)
	return session, nil
}

func (s *memSessions) Update(ctx context.Context, id uuid.UUID, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated[id] = messages
	return nil
}

func (s *memSessions) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.archived {
		if session.ID == id {
			return session, nil
		}
	}
	return nil, errors.New("session not found")
}

func (s *memSessions) archiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archived)
}

type stubQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (q *stubQueue) EnqueueTitleJob(ctx context.Context, sessionID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, sessionID)
	return nil
}

// scriptedClient plays back a fixed reply or event sequence. A non-nil
// block channel holds Generate until the test closes it.
type scriptedClient struct {
	reply    string
	events   []models.StreamEvent
	genErr   error
	vision   string
	lastReq  models.ChatRequest
	reqMu    sync.Mutex
	upstream bool
	block    chan struct{}
}

func (c *scriptedClient) Generate(ctx context.Context, req models.ChatRequest) (string, models.ResponseMetadata, error) {
	c.reqMu.Lock()
	c.lastReq = req
	c.reqMu.Unlock()
	if c.block != nil {
		<-c.block
	}
	if c.genErr != nil {
		return "", models.ResponseMetadata{}, c.genErr
	}
	return c.reply, models.ResponseMetadata{Model: "test-model"}, nil
}

func (c *scriptedClient) GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamEvent, error) {
	c.reqMu.Lock()
	c.lastReq = req
	c.reqMu.Unlock()
	if c.genErr != nil {
		return nil, c.genErr
	}
	events := make(chan models.StreamEvent, len(c.events))
	for _, ev := range c.events {
		events <- ev
	}
	close(events)
	return events, nil
}

func (c *scriptedClient) AnalyzeImage(ctx context.Context, path, prompt string) (string, error) {
	if c.vision == "" {
		return "", errors.New("no vision reply configured")
	}
	return c.vision, nil
}

func (c *scriptedClient) CheckConnection(ctx context.Context) bool { return !c.upstream }

func (c *scriptedClient) ListModels(ctx context.Context) (*models.ModelsResponse, error) {
	return &models.ModelsResponse{}, nil
}

func waitForLoading(t *testing.T, svc *ChatService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.State().IsLoading {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("turn never started")
}

func newTestService(t *testing.T, client *scriptedClient) (*ChatService, *memHistory, *memSessions, *stubQueue) {
	t.Helper()
	history := &memHistory{}
	sessions := newMemSessions()
	queue := &stubQueue{}
	svc := NewChatService(
		history, sessions, client,
		NewDocumentService(), nil, nil, nil,
		queue, NopPublisher{},
		ChatOptions{DefaultSystemPrompt: "You are helpful.", DefaultModel: "test-model"},
		zap.NewNop(),
	)
	return svc, history, sessions, queue
}

func TestSendMessage_AppendsUserAndAssistant(t *testing.T) {
	client := &scriptedClient{reply: "Hi there!"}
	svc, history, sessions, queue := newTestService(t, client)

	resp, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "Hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response != "Hi there!" {
		t.Fatalf("unexpected response: %q", resp.Response)
	}

	state := svc.State()
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if !state.Messages[0].IsUser || state.Messages[1].IsUser {
		t.Fatalf("expected user then assistant message")
	}
	if history.count() != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", history.count())
	}
	if sessions.archiveCount() != 1 {
		t.Fatalf("expected a session archive after first turn, got %d", sessions.archiveCount())
	}
	if state.CurrentSessionID == nil {
		t.Fatalf("expected session id to be set after archive")
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one title job, got %d", len(queue.enqueued))
	}
}

func TestSendMessage_SecondTurnUpdatesSession(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, _, sessions, _ := newTestService(t, client)

	ctx := context.Background()
	if _, err := svc.SendMessage(ctx, models.ChatRequest{Prompt: "first"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := svc.SendMessage(ctx, models.ChatRequest{Prompt: "second"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if sessions.archiveCount() != 1 {
		t.Fatalf("expected a single archived session, got %d", sessions.archiveCount())
	}
	id := *svc.State().CurrentSessionID
	if len(sessions.updated[id]) != 4 {
		t.Fatalf("expected session update with 4 messages, got %d", len(sessions.updated[id]))
	}
}

func TestSendMessage_EmptyPromptIsNoOp(t *testing.T) {
	client := &scriptedClient{reply: "unused"}
	svc, history, _, _ := newTestService(t, client)

	resp, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response for empty prompt")
	}
	if history.count() != 0 {
		t.Fatalf("empty prompt must not persist anything")
	}
}

func TestSendMessage_UpstreamErrorRestoresState(t *testing.T) {
	client := &scriptedClient{genErr: errors.New("parallax: connection refused")}
	svc, history, sessions, _ := newTestService(t, client)

	_, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "Hello"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Message != "connection refused" {
		t.Fatalf("expected wrapper prefix stripped, got %q", upstream.Message)
	}

	state := svc.State()
	if state.IsLoading || state.IsStreaming {
		t.Fatalf("flags must be cleared after failure")
	}
	if state.Error == "" {
		t.Fatalf("expected error surfaced in state")
	}
	// The optimistic user message stays; only the assistant reply is missing.
	if len(state.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(state.Messages))
	}
	if history.count() != 1 {
		t.Fatalf("expected only the user message persisted, got %d", history.count())
	}
	if sessions.archiveCount() != 0 {
		t.Fatalf("failed turn must not archive")
	}
}

func TestPrivateMode_NothingPersisted(t *testing.T) {
	client := &scriptedClient{reply: "secret reply"}
	svc, history, sessions, _ := newTestService(t, client)

	svc.SetPrivateMode(true)
	if _, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "secret"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := svc.State()
	if len(state.Messages) != 2 {
		t.Fatalf("private turn still runs in memory, got %d messages", len(state.Messages))
	}
	if history.count() != 0 {
		t.Fatalf("private mode must not touch the history store")
	}
	if sessions.archiveCount() != 0 {
		t.Fatalf("private mode must not archive sessions")
	}
}

func TestSendMessage_PrivateToggleMidTurnKeepsPersistence(t *testing.T) {
	client := &scriptedClient{reply: "reply", block: make(chan struct{})}
	svc, history, sessions, _ := newTestService(t, client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "Hello"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	waitForLoading(t, svc)
	svc.SetPrivateMode(true)
	close(client.block)
	<-done

	// The turn began non-private, so it persists both messages and
	// archives regardless of the toggle.
	if history.count() != 2 {
		t.Fatalf("expected both turn messages persisted, got %d", history.count())
	}
	if sessions.archiveCount() != 1 {
		t.Fatalf("expected the turn to archive, got %d", sessions.archiveCount())
	}
}

func TestSendMessage_RejectsConcurrentSend(t *testing.T) {
	client := &scriptedClient{reply: "reply", block: make(chan struct{})}
	svc, _, _, _ := newTestService(t, client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "first"})
	}()

	waitForLoading(t, svc)

	_, err := svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "second"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError while a turn is in flight, got %v", err)
	}

	close(client.block)
	<-done

	if len(svc.State().Messages) != 2 {
		t.Fatalf("rejected send must not append messages, got %d", len(svc.State().Messages))
	}
}

func TestSetPrivateMode_ClearsVisibleConversation(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, _, _, _ := newTestService(t, client)

	svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "hello"})
	svc.SetPrivateMode(true)

	state := svc.State()
	if !state.IsPrivateMode {
		t.Fatalf("expected private mode enabled")
	}
	if len(state.Messages) != 0 {
		t.Fatalf("entering private mode must clear visible messages")
	}
	if state.CurrentSessionID != nil {
		t.Fatalf("entering private mode must detach the session")
	}
}

func TestStreamMessage_MaterializesContentOnly(t *testing.T) {
	client := &scriptedClient{events: []models.StreamEvent{
		models.ThinkingEvent("a"),
		models.ContentEvent("b"),
		models.ContentEvent("c"),
		models.DoneEvent(models.ResponseMetadata{Model: "test-model"}),
	}}
	svc, history, _, _ := newTestService(t, client)

	var got []models.StreamEvent
	err := svc.StreamMessage(context.Background(), models.ChatRequest{Prompt: "go"}, func(ev models.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 forwarded events, got %d", len(got))
	}

	state := svc.State()
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if state.Messages[1].Text != "bc" {
		t.Fatalf("assistant message must contain content only, got %q", state.Messages[1].Text)
	}
	if state.IsStreaming || state.IsThinking {
		t.Fatalf("streaming flags must be cleared after done")
	}
	if history.count() != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", history.count())
	}
}

func TestStreamMessage_ErrorEventDiscardsPartialContent(t *testing.T) {
	client := &scriptedClient{events: []models.StreamEvent{
		models.ContentEvent("partial"),
		models.ErrorEvent("backend exploded"),
	}}
	svc, history, _, _ := newTestService(t, client)

	err := svc.StreamMessage(context.Background(), models.ChatRequest{Prompt: "go"}, func(ev models.StreamEvent) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := svc.State()
	if len(state.Messages) != 1 {
		t.Fatalf("error event must not materialize an assistant message, got %d messages", len(state.Messages))
	}
	if state.Error != "backend exploded" {
		t.Fatalf("expected error in state, got %q", state.Error)
	}
	if history.count() != 1 {
		t.Fatalf("only the user message may be persisted, got %d", history.count())
	}
}

func TestStartNewChat_ArchivesAndResets(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, history, sessions, _ := newTestService(t, client)

	ctx := context.Background()
	svc.SendMessage(ctx, models.ChatRequest{Prompt: "remember me"})

	before := sessions.archiveCount()
	if err := svc.StartNewChat(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sessions.archiveCount() != before+1 {
		t.Fatalf("new chat must archive the conversation as a fresh session")
	}
	state := svc.State()
	if len(state.Messages) != 0 || state.CurrentSessionID != nil {
		t.Fatalf("expected a blank conversation after new chat")
	}
	if history.count() != 0 {
		t.Fatalf("history must be cleared, got %d messages", history.count())
	}
}

func TestStartNewChat_EmptyConversationSkipsArchive(t *testing.T) {
	client := &scriptedClient{}
	svc, _, sessions, _ := newTestService(t, client)

	if err := svc.StartNewChat(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions.archiveCount() != 0 {
		t.Fatalf("empty conversation must not be archived")
	}
}

func TestLoadArchivedSession_ReplacesConversation(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, history, sessions, _ := newTestService(t, client)

	archived, _ := sessions.Archive(context.Background(), []models.Message{
		models.NewUserMessage("old question", nil),
		models.NewAssistantMessage("old answer"),
	}, "Old chat")

	if err := svc.LoadArchivedSession(context.Background(), archived.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := svc.State()
	if len(state.Messages) != 2 {
		t.Fatalf("expected loaded messages, got %d", len(state.Messages))
	}
	if state.CurrentSessionID == nil || *state.CurrentSessionID != archived.ID {
		t.Fatalf("expected session id %s, got %v", archived.ID, state.CurrentSessionID)
	}
	if history.count() != 2 {
		t.Fatalf("history must mirror the loaded session, got %d", history.count())
	}

	// Loading the same session again changes nothing.
	if err := svc.LoadArchivedSession(context.Background(), archived.ID); err != nil {
		t.Fatalf("unexpected error on second load: %v", err)
	}
	again := svc.State()
	if len(again.Messages) != 2 {
		t.Fatalf("second load must be idempotent, got %d messages", len(again.Messages))
	}
	if again.CurrentSessionID == nil || *again.CurrentSessionID != archived.ID {
		t.Fatalf("second load changed the session id to %v", again.CurrentSessionID)
	}
	if history.count() != 2 {
		t.Fatalf("second load must not grow history, got %d", history.count())
	}
	if sessions.archiveCount() != 1 {
		t.Fatalf("second load must not create a new archive, got %d", sessions.archiveCount())
	}
}

func TestLoadArchivedSession_MissingIsSilentNoOp(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, _, _, _ := newTestService(t, client)

	svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "keep me"})
	before := svc.State()

	if err := svc.LoadArchivedSession(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing session must not surface an error, got %v", err)
	}

	after := svc.State()
	if len(after.Messages) != len(before.Messages) {
		t.Fatalf("missing session must leave the conversation untouched")
	}
}

func TestBeginEdit_OnlyUserMessages(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, _, _, _ := newTestService(t, client)

	svc.SendMessage(context.Background(), models.ChatRequest{Prompt: "editable"})
	state := svc.State()

	if !svc.BeginEdit(state.Messages[0].ID) {
		t.Fatalf("expected user message to be editable")
	}
	if svc.State().EditingMessage == nil {
		t.Fatalf("expected editing message in state")
	}

	if svc.BeginEdit(state.Messages[1].ID) {
		t.Fatalf("assistant messages must not be editable")
	}

	svc.CancelEdit()
	if svc.State().EditingMessage != nil {
		t.Fatalf("cancel must clear the editing message")
	}
}

func TestSendMessage_WirePayloadIncludesHistory(t *testing.T) {
	client := &scriptedClient{reply: "reply"}
	svc, _, _, _ := newTestService(t, client)

	ctx := context.Background()
	svc.SendMessage(ctx, models.ChatRequest{Prompt: "first"})
	svc.SendMessage(ctx, models.ChatRequest{Prompt: "second"})

	client.reqMu.Lock()
	wire := client.lastReq.Messages
	client.reqMu.Unlock()

	if len(wire) != 3 {
		t.Fatalf("expected 3 wire messages (2 history + prompt), got %d", len(wire))
	}
	if wire[0].Role != "user" || wire[1].Role != "assistant" || wire[2].Role != "user" {
		t.Fatalf("unexpected wire roles: %v %v %v", wire[0].Role, wire[1].Role, wire[2].Role)
	}
	if wire[2].Content != "second" {
		t.Fatalf("prompt must be the last wire message, got %q", wire[2].Content)
	}
}

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("x", 80)
	cases := []struct {
		name     string
		messages []models.Message
		want     string
	}{
		{"first user message", []models.Message{models.NewUserMessage("Hello world", nil)}, "Hello world"},
		{"skips assistant", []models.Message{models.NewAssistantMessage("hi"), models.NewUserMessage("real title", nil)}, "real title"},
		{"truncates long titles", []models.Message{models.NewUserMessage(long, nil)}, long[:50]},
		{"fallback", nil, "New Chat"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveTitle(tc.messages); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
