package parallax

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"parallax-connect/internal/models"
)

// Searcher is the slice of the web search service the mock needs.
type Searcher interface {
	Search(ctx context.Context, query, depth string) (*models.SearchResponse, error)
}

var searchForPattern = regexp.MustCompile(`(?i)search for (.*)`)

// MockClient answers without an inference backend so the client app can
// be exercised offline. It echoes prompts, honors "search for ..." to
// test web search, and simulates streaming with short delays.
type MockClient struct {
	searcher Searcher
	delay    time.Duration
	logger   *zap.Logger
}

func NewMockClient(searcher Searcher, delay time.Duration, logger *zap.Logger) *MockClient {
	return &MockClient{searcher: searcher, delay: delay, logger: logger}
}

func (c *MockClient) reply(ctx context.Context, prompt string) string {
	if m := searchForPattern.FindStringSubmatch(prompt); m != nil && c.searcher != nil {
		query := strings.TrimSpace(m[1])
		c.logger.Info("mock search detected", zap.String("query", query))

		results, err := c.searcher.Search(ctx, query, "normal")
		if err != nil {
			return fmt.Sprintf("Search error: %v", err)
		}
		if len(results.Results) == 0 {
			return fmt.Sprintf("I searched for '%s' but found no results.", query)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "### Search Results for '%s'\n\n", query)
		for i, r := range results.Results {
			fmt.Fprintf(&b, "**%d. [%s](%s)**\n> %s\n\n", i+1, r.Title, r.URL, r.Snippet)
		}
		return b.String()
	}

	return fmt.Sprintf("[MOCK] Server received: '%s'. \n\n(Tip: Try 'search for python' to test web search)", prompt)
}

func (c *MockClient) metadata(response string, start time.Time) models.ResponseMetadata {
	completion := len(strings.Fields(response))
	return models.ResponseMetadata{
		Usage: models.Usage{
			PromptTokens:     10,
			CompletionTokens: completion,
			TotalTokens:      10 + completion,
		},
		DurationSeconds: time.Since(start).Seconds(),
		Model:           "mock-model",
	}
}

func (c *MockClient) Generate(ctx context.Context, req models.ChatRequest) (string, models.ResponseMetadata, error) {
	start := time.Now()

	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return "", models.ResponseMetadata{}, ctx.Err()
	}

	response := c.reply(ctx, req.Prompt)
	return response, c.metadata(response, start), nil
}

func (c *MockClient) GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamEvent, error) {
	events := make(chan models.StreamEvent, 16)
	start := time.Now()

	go func() {
		defer close(events)

		emit := func(ev models.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(models.ThinkingEvent("Thinking about the request...\n")) {
			return
		}
		time.Sleep(c.delay / 2)

		response := c.reply(ctx, req.Prompt)

		// Chunk the reply word by word to exercise incremental rendering.
		words := strings.SplitAfter(response, " ")
		for _, w := range words {
			if !emit(models.ContentEvent(w)) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}

		emit(models.DoneEvent(c.metadata(response, start)))
	}()

	return events, nil
}

func (c *MockClient) AnalyzeImage(ctx context.Context, path, prompt string) (string, error) {
	return fmt.Sprintf("[MOCK] Analyzed image '%s' for prompt: '%s'", path, prompt), nil
}

func (c *MockClient) CheckConnection(ctx context.Context) bool { return true }

func (c *MockClient) ListModels(ctx context.Context) (*models.ModelsResponse, error) {
	return &models.ModelsResponse{
		Models: []models.ModelInfo{
			{ID: "mock-model", Name: "Mock Model", ContextLength: 32768},
		},
		ActiveModel: "mock-model",
	}, nil
}
