package parallax

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"parallax-connect/internal/models"
)

// HTTPClient talks to a running Parallax node.
type HTTPClient struct {
	api           *openai.Client
	baseURL       string
	defaultModel  string
	http          *http.Client
	streamTimeout time.Duration
	logger        *zap.Logger
}

func NewHTTPClient(baseURL, defaultModel string, requestTimeout, streamTimeout time.Duration, logger *zap.Logger) *HTTPClient {
	cfg := openai.DefaultConfig("") // Parallax does not check API keys
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	cfg.HTTPClient = &http.Client{Timeout: requestTimeout}

	logger.Info("Parallax client initialized", zap.String("base_url", baseURL))

	return &HTTPClient{
		api:           openai.NewClientWithConfig(cfg),
		baseURL:       strings.TrimRight(baseURL, "/"),
		defaultModel:  defaultModel,
		http:          &http.Client{Timeout: 5 * time.Second},
		streamTimeout: streamTimeout,
		logger:        logger,
	}
}

func (c *HTTPClient) completionRequest(req models.ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	wire := buildMessages(req)
	messages := make([]openai.ChatCompletionMessage, len(wire))
	for i, m := range wire {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	out := openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             req.Stop,
		Stream:           stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

func (c *HTTPClient) Generate(ctx context.Context, req models.ChatRequest) (string, models.ResponseMetadata, error) {
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, c.completionRequest(req, false))
	if err != nil {
		return "", models.ResponseMetadata{}, fmt.Errorf("parallax: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", models.ResponseMetadata{}, errors.New("parallax: empty response")
	}

	meta := models.ResponseMetadata{
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		DurationSeconds: time.Since(start).Seconds(),
		Model:           resp.Model,
	}

	c.logger.Info("generation completed",
		zap.Float64("duration_seconds", meta.DurationSeconds),
		zap.Int("prompt_tokens", meta.Usage.PromptTokens),
		zap.Int("completion_tokens", meta.Usage.CompletionTokens))

	return stripThinking(resp.Choices[0].Message.Content), meta, nil
}

func (c *HTTPClient) GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamEvent, error) {
	cancel := context.CancelFunc(func() {})
	if c.streamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, c.completionRequest(req, true))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parallax: %w", err)
	}

	events := make(chan models.StreamEvent, 16)
	start := time.Now()

	go func() {
		defer close(events)
		defer stream.Close()
		defer cancel()

		splitter := &thinkSplitter{}
		var usage models.Usage

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					msg := "generation cancelled"
					if errors.Is(ctx.Err(), context.DeadlineExceeded) {
						msg = "generation timed out"
					}
					c.logger.Warn("stream cancelled", zap.Error(ctx.Err()))
					events <- models.ErrorEvent(msg)
					return
				}
				c.logger.Error("stream receive failed", zap.Error(err))
				events <- models.ErrorEvent(err.Error())
				return
			}

			if chunk.Usage != nil {
				usage = models.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			for _, ev := range splitter.Feed(chunk.Choices[0].Delta.Content) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		for _, ev := range splitter.Flush() {
			events <- ev
		}

		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		elapsed := time.Since(start).Seconds()

		c.logger.Info("stream completed",
			zap.Float64("duration_seconds", elapsed),
			zap.Int("total_tokens", usage.TotalTokens))

		events <- models.DoneEvent(models.ResponseMetadata{
			Usage:           usage,
			DurationSeconds: elapsed,
			Model:           req.Model,
		})
	}()

	return events, nil
}

func (c *HTTPClient) CheckConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model/list", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPClient) ListModels(ctx context.Context) (*models.ModelsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parallax: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parallax: model list returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			VRAMGB int    `json:"vram_gb"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parallax: %w", err)
	}

	out := &models.ModelsResponse{}
	for _, m := range body.Data {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		out.Models = append(out.Models, models.ModelInfo{
			ID:            name,
			Name:          name,
			ContextLength: 32768,
			VRAMGB:        m.VRAMGB,
		})
	}

	out.ActiveModel = c.activeModel(ctx)
	return out, nil
}

// activeModel reads the first status frame from the cluster status
// stream; failures just leave the active model unset.
func (c *HTTPClient) activeModel(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cluster/status", nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			return ""
		}

		var status struct {
			ModelName string `json:"model_name"`
			Data      struct {
				ModelName string `json:"model_name"`
			} `json:"data"`
		}
		if json.Unmarshal([]byte(line), &status) != nil {
			continue
		}
		if status.Data.ModelName != "" {
			return status.Data.ModelName
		}
		if status.ModelName != "" {
			return status.ModelName
		}
	}
	return ""
}
