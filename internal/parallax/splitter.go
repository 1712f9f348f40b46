package parallax

import (
	"strings"

	"parallax-connect/internal/models"
)

// thinkingFlushThreshold is how much buffered reasoning text we hold
// before emitting a thinking event when no newline arrives.
const thinkingFlushThreshold = 50

// thinkSplitter turns raw completion deltas into discriminated
// thinking/content events. Backends wrap reasoning in <think>...</think>
// inline with the answer; the splitter tracks whether the cursor is
// inside such a block and routes text accordingly. Thinking text is
// batched up to a newline or the flush threshold, answer text is
// forwarded as it arrives.
type thinkSplitter struct {
	buffer     string
	inThinking bool
}

// Feed consumes one delta chunk and returns zero or more events.
func (s *thinkSplitter) Feed(chunk string) []models.StreamEvent {
	if chunk == "" {
		return nil
	}
	s.buffer += chunk

	var events []models.StreamEvent

	if !s.inThinking && strings.Contains(s.buffer, "<think>") {
		s.inThinking = true
		s.buffer = strings.Replace(s.buffer, "<think>", "", 1)
	}

	if s.inThinking && strings.Contains(s.buffer, "</think>") {
		s.inThinking = false
		parts := strings.SplitN(s.buffer, "</think>", 2)
		if strings.TrimSpace(parts[0]) != "" {
			events = append(events, models.ThinkingEvent(parts[0]))
		}
		s.buffer = parts[1]
		// Remaining answer text is emitted on the next chunk.
		return events
	}

	if s.inThinking {
		if strings.Contains(s.buffer, "\n") || len(s.buffer) > thinkingFlushThreshold {
			events = append(events, models.ThinkingEvent(s.buffer))
			s.buffer = ""
		}
		return events
	}

	if s.buffer != "" {
		events = append(events, models.ContentEvent(s.buffer))
		s.buffer = ""
	}
	return events
}

// Flush drains whatever is left in the buffer at end of stream.
func (s *thinkSplitter) Flush() []models.StreamEvent {
	if strings.TrimSpace(s.buffer) == "" {
		s.buffer = ""
		return nil
	}
	buffered := s.buffer
	s.buffer = ""
	if s.inThinking {
		return []models.StreamEvent{models.ThinkingEvent(buffered)}
	}
	return []models.StreamEvent{models.ContentEvent(buffered)}
}
