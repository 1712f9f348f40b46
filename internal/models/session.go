package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatSession is an archived conversation snapshot. A session is created
// the first time a non-private conversation is archived and updated in
// place by id afterwards; the same logical conversation is never
// duplicated.
type ChatSession struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	IsImportant  bool      `json:"is_important"`
}
