package models

type StreamEventType string

const (
	StreamThinking      StreamEventType = "thinking"
	StreamContent       StreamEventType = "content"
	StreamSearchResults StreamEventType = "search_results"
	StreamDone          StreamEventType = "done"
	StreamError         StreamEventType = "error"
)

// StreamEvent is one discriminated increment of a streamed generation,
// serialized as a `data: {...}` SSE frame. Thinking and content events
// may interleave; only a terminal event (done or error) ends the stream.
type StreamEvent struct {
	Type     StreamEventType   `json:"type"`
	Content  string            `json:"content,omitempty"`
	Message  string            `json:"message,omitempty"` // error detail
	Metadata *ResponseMetadata `json:"metadata,omitempty"`
	Results  []SearchResult    `json:"results,omitempty"`
}

func (e StreamEvent) Terminal() bool {
	return e.Type == StreamDone || e.Type == StreamError
}

func ThinkingEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamThinking, Content: content}
}

func ContentEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamContent, Content: content}
}

func DoneEvent(meta ResponseMetadata) StreamEvent {
	return StreamEvent{Type: StreamDone, Metadata: &meta}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: StreamError, Message: message}
}
