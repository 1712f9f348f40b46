package models

import "github.com/google/uuid"

// ChatState is an immutable snapshot of the active conversation. The
// chat service replaces the whole snapshot on every transition and
// publishes it to subscribers; nothing mutates a snapshot in place.
//
// Indicator precedence for consumers: searching web, then analyzing
// intent, then thinking, then streaming content.
type ChatState struct {
	Messages          []Message  `json:"messages"`
	IsLoading         bool       `json:"is_loading"`
	IsStreaming       bool       `json:"is_streaming"`
	StreamingContent  string     `json:"streaming_content"`
	ThinkingContent   string     `json:"thinking_content"`
	IsThinking        bool       `json:"is_thinking"`
	IsSearchingWeb    bool       `json:"is_searching_web"`
	IsAnalyzingIntent bool       `json:"is_analyzing_intent"`
	Error             string     `json:"error,omitempty"`
	IsPrivateMode     bool       `json:"is_private_mode"`
	CurrentSessionID  *uuid.UUID `json:"current_session_id,omitempty"`
	EditingMessage    *Message   `json:"editing_message,omitempty"`
}

// Clone returns a snapshot whose message slice is independent of the
// receiver, so a published state cannot be changed by later appends.
func (s ChatState) Clone() ChatState {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.CurrentSessionID != nil {
		id := *s.CurrentSessionID
		out.CurrentSessionID = &id
	}
	if s.EditingMessage != nil {
		msg := *s.EditingMessage
		out.EditingMessage = &msg
	}
	return out
}
