// Package parallax talks to the Parallax inference backend over its
// OpenAI-compatible chat completions API.
package parallax

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"parallax-connect/internal/models"
)

// ErrNoConnection indicates the backend is unreachable before any
// generation was attempted.
var ErrNoConnection = errors.New("cannot connect to Parallax. Make sure it is running")

// Client is the generation boundary consumed by the chat service.
// Implementations must honor context cancellation on every call; a
// cancelled context aborts in-flight generation.
type Client interface {
	// Generate runs a complete (non-streaming) generation and returns
	// the final text with usage metadata.
	Generate(ctx context.Context, req models.ChatRequest) (string, models.ResponseMetadata, error)

	// GenerateStream starts a streaming generation. The returned channel
	// yields thinking/content events and is closed after a terminal done
	// or error event.
	GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamEvent, error)

	// AnalyzeImage answers a prompt about one image attachment using the
	// backend's multimodal path.
	AnalyzeImage(ctx context.Context, path, prompt string) (string, error)

	// CheckConnection reports whether the backend answers at all.
	CheckConnection(ctx context.Context) bool

	// ListModels fetches the models the backend can serve.
	ListModels(ctx context.Context) (*models.ModelsResponse, error)
}

// buildMessages assembles the wire message list: explicit history when
// present (system prompt prepended), otherwise system prompt + prompt.
func buildMessages(req models.ChatRequest) []models.ChatMessage {
	var messages []models.ChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, models.ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	if len(req.Messages) > 0 {
		messages = append(messages, req.Messages...)
		return messages
	}
	messages = append(messages, models.ChatMessage{Role: "user", Content: req.Prompt})
	return messages
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking removes reasoning blocks from a complete response. When
// the whole response was reasoning, the raw text is returned instead of
// an empty answer.
func stripThinking(raw string) string {
	content := strings.TrimSpace(thinkTagPattern.ReplaceAllString(raw, ""))
	if content == "" {
		return raw
	}
	return content
}
