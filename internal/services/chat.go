package services

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parallax-connect/internal/models"
	"parallax-connect/internal/parallax"
)

// HistoryStore is the persistence contract for the active conversation.
type HistoryStore interface {
	GetHistory(ctx context.Context) ([]models.Message, error)
	SaveMessage(ctx context.Context, m models.Message) error
	ClearHistory(ctx context.Context) error
	ReplaceHistory(ctx context.Context, messages []models.Message) error
}

// SessionStore is the persistence contract for archived sessions.
type SessionStore interface {
	Archive(ctx context.Context, messages []models.Message, title string) (*models.ChatSession, error)
	Update(ctx context.Context, id uuid.UUID, messages []models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
}

// JobQueue enqueues background work spawned by session lifecycle events.
type JobQueue interface {
	EnqueueTitleJob(ctx context.Context, sessionID uuid.UUID) error
}

// ChatOptions carries the configuration slice the chat service needs.
type ChatOptions struct {
	// CloudMode enables the connectivity precheck before each turn.
	CloudMode           bool
	DefaultSystemPrompt string
	DefaultModel        string
}

// ChatService orchestrates conversational turns and the session
// lifecycle. It exclusively owns the in-memory ChatState; every
// transition replaces the snapshot and notifies subscribers. Two turns
// never run concurrently: a send while loading or streaming is rejected.
type ChatService struct {
	history      HistoryStore
	sessions     SessionStore
	client       parallax.Client
	docs         *DocumentService
	search       *WebSearchService
	router       *SearchRouter
	connectivity Connectivity
	queue        JobQueue
	publisher    Publisher
	opts         ChatOptions
	logger       *zap.Logger

	mu    sync.Mutex
	state models.ChatState

	subMu  sync.Mutex
	subs   map[int]chan models.ChatState
	nextID int

	cancelMu      sync.Mutex
	cancelCurrent context.CancelFunc
}

func NewChatService(
	history HistoryStore,
	sessions SessionStore,
	client parallax.Client,
	docs *DocumentService,
	search *WebSearchService,
	router *SearchRouter,
	connectivity Connectivity,
	queue JobQueue,
	publisher Publisher,
	opts ChatOptions,
	logger *zap.Logger,
) *ChatService {
	s := &ChatService{
		history:      history,
		sessions:     sessions,
		client:       client,
		docs:         docs,
		search:       search,
		router:       router,
		connectivity: connectivity,
		queue:        queue,
		publisher:    publisher,
		opts:         opts,
		logger:       logger,
		subs:         make(map[int]chan models.ChatState),
	}

	// Hydrate from the history store; it is the source of truth across
	// restarts.
	messages, err := history.GetHistory(context.Background())
	if err != nil {
		logger.Warn("failed to hydrate history", zap.Error(err))
	}
	s.state = models.ChatState{Messages: messages}

	return s
}

// State returns an independent snapshot of the current chat state.
func (s *ChatService) State() models.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers a state listener. The returned cancel func must be
// called to release the subscription. Slow listeners miss intermediate
// snapshots rather than blocking transitions.
func (s *ChatService) Subscribe() (<-chan models.ChatState, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan models.ChatState, 8)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// setState applies a transition to a cloned snapshot and publishes the
// result.
func (s *ChatService) setState(mutate func(*models.ChatState)) models.ChatState {
	s.mu.Lock()
	next := s.state.Clone()
	mutate(&next)
	s.state = next
	s.mu.Unlock()

	s.notify(next)
	return next
}

func (s *ChatService) notify(next models.ChatState) {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}
	s.subMu.Unlock()

	s.publisher.Publish(context.Background(), models.WSMessage{Type: "state_update", Payload: next})
}

// ─── Turn orchestration ───

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".gif": true,
}

func classifyAttachments(paths []string) (images, documents []string) {
	for _, p := range paths {
		if imageExtensions[strings.ToLower(filepath.Ext(p))] {
			images = append(images, p)
		} else {
			documents = append(documents, p)
		}
	}
	return images, documents
}

// stripErrorPrefix removes the internal wrapper prefix so users see the
// underlying failure, not our plumbing.
func stripErrorPrefix(msg string) string {
	return strings.TrimPrefix(msg, "parallax: ")
}

type turn struct {
	userMsg   models.Message
	genReq    models.ChatRequest
	useVision bool
	imagePath string
	// private is fixed at beginTurn; a mode toggle mid-generation does
	// not change how this turn persists.
	private bool
}

// beginTurn runs the shared front half of a turn: mutual exclusion,
// optimistic user message append, persistence, attachment routing and
// the connectivity precheck. On error the turn is already failed and
// state restored.
func (s *ChatService) beginTurn(ctx context.Context, req models.ChatRequest) (*turn, error) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" && len(req.AttachmentPaths) == 0 {
		return nil, nil // nothing to send
	}

	userMsg := models.NewUserMessage(text, req.AttachmentPaths)

	// Guard and flag set share one critical section so two concurrent
	// sends cannot both pass the in-progress check.
	s.mu.Lock()
	if s.state.IsLoading || s.state.IsStreaming {
		s.mu.Unlock()
		return nil, &RateLimitError{Message: "A generation is already in progress"}
	}
	private := s.state.IsPrivateMode
	prior := make([]models.Message, len(s.state.Messages))
	copy(prior, s.state.Messages)
	next := s.state.Clone()
	next.Messages = append(next.Messages, userMsg)
	next.IsLoading = true
	next.Error = ""
	next.StreamingContent = ""
	next.ThinkingContent = ""
	next.IsThinking = false
	next.EditingMessage = nil
	s.state = next
	s.mu.Unlock()
	s.notify(next)

	if !private {
		if err := s.history.SaveMessage(ctx, userMsg); err != nil {
			// Storage faults never block a turn.
			s.logger.Error("failed to persist user message", zap.Error(err))
		}
	}

	images, documents := classifyAttachments(req.AttachmentPaths)

	t := &turn{userMsg: userMsg, private: private}

	// Images take precedence for response routing.
	if len(images) > 0 {
		t.useVision = true
		t.imagePath = images[0]
	}

	if s.opts.CloudMode && !s.connectivity.HasInternetConnection(ctx) {
		s.failTurn("No internet connection. Please check your network and try again.")
		return nil, &UpstreamError{Message: "No internet connection. Please check your network and try again."}
	}
	if t.useVision {
		t.genReq = models.ChatRequest{Prompt: text}
		return t, nil
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.opts.DefaultSystemPrompt
	}

	genReq := models.ChatRequest{
		Prompt:       text,
		SystemPrompt: systemPrompt,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		TopK:         req.TopK,
		Stop:         req.Stop,
	}
	if genReq.Model == "" {
		genReq.Model = s.opts.DefaultModel
	}

	if len(documents) > 0 {
		var parts []string
		for _, doc := range documents {
			extracted, err := s.docs.ExtractText(doc)
			if err != nil {
				s.logger.Warn("document extraction failed", zap.String("path", doc), zap.Error(err))
				continue
			}
			parts = append(parts, extracted)
		}
		if len(parts) > 0 {
			docPrompt := BuildDocumentSystemPrompt(strings.Join(parts, "\n\n"), text)
			genReq.SystemPrompt = systemPrompt + "\n\n" + docPrompt
			if text == "" {
				genReq.Prompt = "Please analyze this document."
			}
		}
	}

	// History excludes the message just appended.
	wire := make([]models.ChatMessage, 0, len(prior)+1)
	for _, m := range prior {
		wire = append(wire, models.ChatMessage{Role: m.Role(), Content: m.Text})
	}
	wire = append(wire, models.ChatMessage{Role: "user", Content: genReq.Prompt})
	genReq.Messages = wire

	genReq.WebSearchEnabled = req.WebSearchEnabled && len(documents) == 0
	genReq.WebSearchDepth = req.WebSearchDepth

	t.genReq = genReq
	return t, nil
}

// completeTurn appends the assistant message, persists it and archives
// or updates the session. Persistence follows the decision captured at
// beginTurn, not the live private flag.
func (s *ChatService) completeTurn(ctx context.Context, t *turn, text string) models.Message {
	assistantMsg := models.NewAssistantMessage(text)

	next := s.setState(func(st *models.ChatState) {
		st.Messages = append(st.Messages, assistantMsg)
		st.IsLoading = false
		st.IsStreaming = false
		st.IsThinking = false
		st.StreamingContent = ""
	})

	if t.private {
		return assistantMsg
	}

	if err := s.history.SaveMessage(ctx, assistantMsg); err != nil {
		s.logger.Error("failed to persist assistant message", zap.Error(err))
	}
	s.archiveCurrent(ctx, next, false)

	return assistantMsg
}

// archiveCurrent creates the session on first archive and updates it in
// place afterwards. Persistence failures are logged, never surfaced.
// The caller decides whether the conversation is private; the snapshot
// flag may already reflect a newer toggle.
func (s *ChatService) archiveCurrent(ctx context.Context, snapshot models.ChatState, private bool) {
	if len(snapshot.Messages) == 0 || private {
		return
	}

	if snapshot.CurrentSessionID == nil {
		session, err := s.sessions.Archive(ctx, snapshot.Messages, deriveTitle(snapshot.Messages))
		if err != nil {
			s.logger.Error("failed to archive session", zap.Error(err))
			return
		}
		s.setState(func(st *models.ChatState) {
			id := session.ID
			st.CurrentSessionID = &id
		})
		s.enqueueTitleJob(ctx, session.ID)
		return
	}

	if err := s.sessions.Update(ctx, *snapshot.CurrentSessionID, snapshot.Messages); err != nil {
		s.logger.Error("failed to update session",
			zap.String("session_id", snapshot.CurrentSessionID.String()),
			zap.Error(err))
	}
}

func (s *ChatService) enqueueTitleJob(ctx context.Context, sessionID uuid.UUID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueTitleJob(ctx, sessionID); err != nil {
		s.logger.Warn("failed to enqueue title job", zap.Error(err))
	}
}

func (s *ChatService) failTurn(message string) {
	s.setState(func(st *models.ChatState) {
		st.IsLoading = false
		st.IsStreaming = false
		st.IsThinking = false
		st.IsSearchingWeb = false
		st.IsAnalyzingIntent = false
		st.StreamingContent = ""
		st.Error = message
	})
}

// performSearch runs intent classification and, when warranted, the web
// search. It returns the context block to append to the system prompt
// and optionally emits progress events for streaming turns.
func (s *ChatService) performSearch(ctx context.Context, genReq models.ChatRequest, emit func(models.StreamEvent) error) string {
	if !genReq.WebSearchEnabled || s.search == nil || s.router == nil {
		return ""
	}

	notify := func(ev models.StreamEvent) {
		if emit != nil {
			emit(ev)
		}
	}

	s.setState(func(st *models.ChatState) { st.IsAnalyzingIntent = true })
	defer s.setState(func(st *models.ChatState) {
		st.IsAnalyzingIntent = false
		st.IsSearchingWeb = false
	})

	notify(models.ThinkingEvent("Analyzing search intent..."))

	history := genReq.Messages
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	intent := s.router.ClassifyIntent(ctx, genReq.Prompt, history)
	if !intent.NeedsSearch {
		notify(models.ThinkingEvent("No search needed."))
		return ""
	}

	query := intent.SearchQuery
	if query == "" {
		query = genReq.Prompt
	}

	s.setState(func(st *models.ChatState) {
		st.IsAnalyzingIntent = false
		st.IsSearchingWeb = true
	})
	notify(models.ThinkingEvent("Searching web for: " + query))

	results, err := s.search.Search(ctx, query, genReq.WebSearchDepth)
	if err != nil {
		s.logger.Error("web search failed", zap.Error(err))
		notify(models.ThinkingEvent("Search failed: " + err.Error()))
		return ""
	}
	if len(results.Results) == 0 {
		notify(models.ThinkingEvent("No relevant results found."))
		return ""
	}

	notify(models.StreamEvent{Type: models.StreamSearchResults, Results: results.Results})
	notify(models.ThinkingEvent("Reading content..."))

	return BuildSearchContext(results)
}

// trackCancel stores the cancel func of the in-flight turn so starting a
// new chat or shutting down aborts pending generation.
func (s *ChatService) trackCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancelCurrent = cancel
	s.cancelMu.Unlock()
	return ctx, cancel
}

// CancelInFlight aborts the current generation, if any.
func (s *ChatService) CancelInFlight() {
	s.cancelMu.Lock()
	if s.cancelCurrent != nil {
		s.cancelCurrent()
		s.cancelCurrent = nil
	}
	s.cancelMu.Unlock()
}

// SendMessage runs one complete (non-streaming) conversational turn.
// A nil response with nil error means there was nothing to send.
func (s *ChatService) SendMessage(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	t, err := s.beginTurn(ctx, req)
	if err != nil || t == nil {
		return nil, err
	}

	ctx, cancel := s.trackCancel(ctx)
	defer cancel()

	if t.useVision {
		text, err := s.client.AnalyzeImage(ctx, t.imagePath, t.genReq.Prompt)
		if err != nil {
			msg := stripErrorPrefix(err.Error())
			s.failTurn(msg)
			return nil, &UpstreamError{Message: msg}
		}
		s.completeTurn(ctx, t, text)
		return &models.ChatResponse{Response: text}, nil
	}

	if searchContext := s.performSearch(ctx, t.genReq, nil); searchContext != "" {
		t.genReq.SystemPrompt += searchContext
	}

	text, meta, err := s.client.Generate(ctx, t.genReq)
	if err != nil {
		msg := stripErrorPrefix(err.Error())
		s.failTurn(msg)
		return nil, &UpstreamError{Message: msg}
	}

	s.completeTurn(ctx, t, text)
	return &models.ChatResponse{Response: text, Metadata: meta}, nil
}

// StreamMessage runs one streaming turn, forwarding every event to emit
// in arrival order. The assistant message materializes only on a done
// event; an error event discards partial content.
func (s *ChatService) StreamMessage(ctx context.Context, req models.ChatRequest, emit func(models.StreamEvent) error) error {
	t, err := s.beginTurn(ctx, req)
	if err != nil {
		if upstream, ok := err.(*UpstreamError); ok {
			emit(models.ErrorEvent(upstream.Message))
			return nil
		}
		return err
	}
	if t == nil {
		return nil
	}

	ctx, cancel := s.trackCancel(ctx)
	defer cancel()

	s.setState(func(st *models.ChatState) { st.IsStreaming = true })

	if t.useVision {
		text, err := s.client.AnalyzeImage(ctx, t.imagePath, t.genReq.Prompt)
		if err != nil {
			msg := stripErrorPrefix(err.Error())
			s.failTurn(msg)
			emit(models.ErrorEvent(msg))
			return nil
		}
		emit(models.ContentEvent(text))
		s.completeTurn(ctx, t, text)
		emit(models.DoneEvent(models.ResponseMetadata{}))
		return nil
	}

	if searchContext := s.performSearch(ctx, t.genReq, emit); searchContext != "" {
		t.genReq.SystemPrompt += searchContext
	}

	events, err := s.client.GenerateStream(ctx, t.genReq)
	if err != nil {
		msg := stripErrorPrefix(err.Error())
		s.failTurn(msg)
		emit(models.ErrorEvent(msg))
		return nil
	}

	for ev := range events {
		switch ev.Type {
		case models.StreamThinking:
			s.setState(func(st *models.ChatState) {
				st.IsThinking = true
				st.ThinkingContent += ev.Content
			})
		case models.StreamContent:
			s.setState(func(st *models.ChatState) {
				st.IsThinking = false
				st.StreamingContent += ev.Content
			})
		case models.StreamDone:
			final := s.State().StreamingContent
			s.completeTurn(ctx, t, final)
		case models.StreamError:
			s.failTurn(stripErrorPrefix(ev.Message))
		}

		if err := emit(ev); err != nil {
			// Client went away; the generation context is cancelled via defer.
			s.logger.Warn("stream consumer dropped", zap.Error(err))
			s.failTurn("stream interrupted")
			return nil
		}
	}

	return nil
}

// ─── Session lifecycle ───

// StartNewChat archives the current non-empty, non-private conversation
// as a fresh session and resets to an empty conversation. Always a new
// session here, never an update, so a stale session id can't be
// referenced.
func (s *ChatService) StartNewChat(ctx context.Context) error {
	s.CancelInFlight()

	snapshot := s.State()

	if len(snapshot.Messages) > 0 && !snapshot.IsPrivateMode {
		session, err := s.sessions.Archive(ctx, snapshot.Messages, deriveTitle(snapshot.Messages))
		if err != nil {
			s.logger.Error("failed to archive session on new chat", zap.Error(err))
		} else {
			s.enqueueTitleJob(ctx, session.ID)
		}
	}

	if err := s.history.ClearHistory(ctx); err != nil {
		s.logger.Error("failed to clear history", zap.Error(err))
	}

	s.setState(func(st *models.ChatState) {
		st.Messages = nil
		st.CurrentSessionID = nil
		st.Error = ""
		st.IsLoading = false
		st.IsStreaming = false
		st.IsThinking = false
		st.StreamingContent = ""
		st.ThinkingContent = ""
		st.EditingMessage = nil
	})

	return nil
}

// SetPrivateMode toggles ephemeral mode. Entering clears the visible
// message list without touching the stores; the conversation then lives
// only in memory. Exiting clears messages and returns to a non-private,
// empty conversation.
func (s *ChatService) SetPrivateMode(enabled bool) {
	s.setState(func(st *models.ChatState) {
		st.IsPrivateMode = enabled
		st.Messages = nil
		st.CurrentSessionID = nil
		st.Error = ""
		st.StreamingContent = ""
		st.ThinkingContent = ""
		st.EditingMessage = nil
	})
}

// LoadArchivedSession replaces the active conversation with an archived
// one. A missing id is logged and ignored. The current unsaved
// conversation is preserved by archiving or updating it first.
func (s *ChatService) LoadArchivedSession(ctx context.Context, id uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		// Deliberately a silent no-op toward the caller: the session may
		// have been deleted from another surface.
		s.logger.Warn("archived session not found", zap.String("session_id", id.String()), zap.Error(err))
		return nil
	}

	snapshot := s.State()
	if len(snapshot.Messages) > 0 && !snapshot.IsPrivateMode {
		s.archiveCurrent(ctx, snapshot, false)
	}

	if err := s.history.ReplaceHistory(ctx, session.Messages); err != nil {
		s.logger.Error("failed to replace history", zap.Error(err))
	}

	s.setState(func(st *models.ChatState) {
		st.Messages = session.Messages
		id := session.ID
		st.CurrentSessionID = &id
		st.IsPrivateMode = false
		st.Error = ""
		st.IsLoading = false
		st.IsStreaming = false
		st.StreamingContent = ""
		st.ThinkingContent = ""
		st.EditingMessage = nil
	})

	return nil
}

// BeginEdit marks a message as being edited; the UI resends it through
// SendMessage.
func (s *ChatService) BeginEdit(messageID uuid.UUID) bool {
	found := false
	s.setState(func(st *models.ChatState) {
		for i := range st.Messages {
			if st.Messages[i].ID == messageID && st.Messages[i].IsUser {
				msg := st.Messages[i]
				st.EditingMessage = &msg
				found = true
				return
			}
		}
	})
	return found
}

func (s *ChatService) CancelEdit() {
	s.setState(func(st *models.ChatState) { st.EditingMessage = nil })
}

// deriveTitle produces a provisional session title from the first user
// message; the title worker replaces it with a generated one.
func deriveTitle(messages []models.Message) string {
	for _, m := range messages {
		if !m.IsUser {
			continue
		}
		title := strings.TrimSpace(m.Text)
		if title == "" {
			continue
		}
		runes := []rune(title)
		if len(runes) > 50 {
			return string(runes[:50])
		}
		return title
	}
	return "New Chat"
}
