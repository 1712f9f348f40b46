package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry in the active conversation. Messages are
// immutable once created and ordered by insertion.
type Message struct {
	ID              uuid.UUID `json:"id"`
	Text            string    `json:"text"`
	IsUser          bool      `json:"is_user"`
	AttachmentPaths []string  `json:"attachment_paths,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewUserMessage(text string, attachments []string) Message {
	return Message{
		ID:              uuid.New(),
		Text:            text,
		IsUser:          true,
		AttachmentPaths: attachments,
		CreatedAt:       time.Now(),
	}
}

func NewAssistantMessage(text string) Message {
	return Message{
		ID:        uuid.New(),
		Text:      text,
		IsUser:    false,
		CreatedAt: time.Now(),
	}
}

// Role maps the user flag onto the wire role used by the inference API.
func (m Message) Role() string {
	if m.IsUser {
		return "user"
	}
	return "assistant"
}
