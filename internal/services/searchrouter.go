package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"parallax-connect/internal/models"
	"parallax-connect/internal/parallax"
)

const routerSystemPrompt = `You are a Search Intent Classifier. Your job is to determine if the user's latest message requires real-time external information from the web to be answered correctly.
Respond ONLY with a JSON object in this format:
{
  "needs_search": true/false,
  "search_query": "optimized keyword query for search engine",
  "reason": "brief explanation"
}
Rules:
1. If the user asks for current events, prices, news, or specific facts not in your training data -> needs_search: true.
2. If the user asks for coding help, creative writing, summarization of chat, or general knowledge -> needs_search: false.
3. If the user explicitly asks to 'search' or 'find' -> needs_search: true.
4. Keep the search_query concise (2-5 keywords).`

// SearchRouter decides whether a prompt needs web search, using a fast
// LLM call with a keyword heuristic as fallback.
type SearchRouter struct {
	client parallax.Client
	logger *zap.Logger
}

func NewSearchRouter(client parallax.Client, logger *zap.Logger) *SearchRouter {
	return &SearchRouter{client: client, logger: logger}
}

func (r *SearchRouter) ClassifyIntent(ctx context.Context, query string, history []models.ChatMessage) models.SearchIntent {
	// Fast exit for obvious non-search queries.
	lowered := strings.ToLower(strings.TrimSpace(query))
	if len(strings.Fields(query)) < 2 {
		switch lowered {
		case "hi", "hello", "test":
			return models.SearchIntent{NeedsSearch: false, Reason: "Greeting"}
		}
	}

	// Limited history context so follow-ups classify correctly.
	messages := history
	if len(messages) > 4 {
		messages = messages[len(messages)-4:]
	}
	messages = append(append([]models.ChatMessage{}, messages...), models.ChatMessage{Role: "user", Content: query})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	text, _, err := r.client.Generate(ctx, models.ChatRequest{
		SystemPrompt: routerSystemPrompt,
		Messages:     messages,
		MaxTokens:    150,
		Temperature:  0,
	})
	if err != nil {
		r.logger.Warn("intent classification failed, using heuristic", zap.Error(err))
		return heuristicIntent(query)
	}

	text = strings.TrimSpace(strings.NewReplacer("```json", "", "```", "").Replace(text))

	var intent models.SearchIntent
	if err := json.Unmarshal([]byte(text), &intent); err != nil {
		r.logger.Warn("failed to parse router verdict", zap.String("raw", text))
		return heuristicIntent(query)
	}

	r.logger.Info("intent classified",
		zap.Bool("needs_search", intent.NeedsSearch),
		zap.String("reason", intent.Reason))
	return intent
}

var searchTriggers = []string{
	"price", "news", "latest", "today", "current", "weather", "search", "find", "who is",
}

func heuristicIntent(query string) models.SearchIntent {
	lowered := strings.ToLower(query)
	for _, t := range searchTriggers {
		if strings.Contains(lowered, t) {
			return models.SearchIntent{NeedsSearch: true, SearchQuery: query, Reason: "Heuristic fallback"}
		}
	}
	return models.SearchIntent{NeedsSearch: false, SearchQuery: query, Reason: "Heuristic fallback"}
}
