package models

// ChatMessage is a role/content pair sent to the inference backend.
type ChatMessage struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// ChatRequest is the payload accepted by the chat endpoints.
//
// Parallax support status: max_tokens, temperature, top_p and top_k work
// today; the repetition controls and stop sequences are forwarded but not
// yet honored upstream.
type ChatRequest struct {
	Prompt       string        `json:"prompt"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Model        string        `json:"model,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`

	RepetitionPenalty float32  `json:"repetition_penalty,omitempty"`
	PresencePenalty   float32  `json:"presence_penalty,omitempty"`
	FrequencyPenalty  float32  `json:"frequency_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`

	WebSearchEnabled bool   `json:"web_search_enabled,omitempty"`
	WebSearchDepth   string `json:"web_search_depth,omitempty"` // "normal" | "deep" | "deeper"

	AttachmentPaths []string `json:"attachment_paths,omitempty"`
	PrivateMode     bool     `json:"private_mode,omitempty"`
}

// Validate mirrors the request contract: one of prompt or messages must
// be present.
func (r ChatRequest) Validate() map[string]string {
	if r.Prompt == "" && len(r.Messages) == 0 && len(r.AttachmentPaths) == 0 {
		return map[string]string{"prompt": "either prompt or messages must be provided"}
	}
	return nil
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseMetadata accompanies a completed generation.
type ResponseMetadata struct {
	Usage           Usage   `json:"usage"`
	DurationSeconds float64 `json:"duration_seconds"`
	Model           string  `json:"model,omitempty"`
}

type ChatResponse struct {
	Response string           `json:"response"`
	Metadata ResponseMetadata `json:"metadata"`
}

type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	VRAMGB        int    `json:"vram_gb"`
}

type ModelsResponse struct {
	Models      []ModelInfo `json:"models"`
	ActiveModel string      `json:"active_model,omitempty"`
}
