package parallax

import (
	"strings"
	"testing"

	"parallax-connect/internal/models"
)

func collect(s *thinkSplitter, chunks ...string) []models.StreamEvent {
	var events []models.StreamEvent
	for _, c := range chunks {
		events = append(events, s.Feed(c)...)
	}
	events = append(events, s.Flush()...)
	return events
}

func joinByType(events []models.StreamEvent, typ models.StreamEventType) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == typ {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func TestSplitter_PlainContentPassesThrough(t *testing.T) {
	s := &thinkSplitter{}
	events := collect(s, "Hello", " world")

	if got := joinByType(events, models.StreamContent); got != "Hello world" {
		t.Fatalf("expected content %q, got %q", "Hello world", got)
	}
	if got := joinByType(events, models.StreamThinking); got != "" {
		t.Fatalf("expected no thinking, got %q", got)
	}
}

func TestSplitter_ThinkBlockRoutedToThinking(t *testing.T) {
	s := &thinkSplitter{}
	events := collect(s, "<think>pondering</think>", "answer")

	if got := joinByType(events, models.StreamThinking); got != "pondering" {
		t.Fatalf("expected thinking %q, got %q", "pondering", got)
	}
	if got := joinByType(events, models.StreamContent); got != "answer" {
		t.Fatalf("expected content %q, got %q", "answer", got)
	}
}

func TestSplitter_CloseTagSplitAcrossChunks(t *testing.T) {
	s := &thinkSplitter{}
	events := collect(s, "<think>deep ", "thought</th", "ink>", "done")

	if got := joinByType(events, models.StreamThinking); got != "deep thought" {
		t.Fatalf("expected thinking %q, got %q", "deep thought", got)
	}
	if got := joinByType(events, models.StreamContent); got != "done" {
		t.Fatalf("expected content %q, got %q", "done", got)
	}
}

func TestSplitter_AnswerAfterCloseTagHeldForNextChunk(t *testing.T) {
	s := &thinkSplitter{}

	events := s.Feed("<think>x</think>tail")
	if got := joinByType(events, models.StreamContent); got != "" {
		t.Fatalf("trailing answer must wait for the next chunk, got %q", got)
	}

	events = s.Feed(" more")
	if got := joinByType(events, models.StreamContent); got != "tail more" {
		t.Fatalf("expected held text to flush with next chunk, got %q", got)
	}
}

func TestSplitter_ThinkingFlushesOnNewline(t *testing.T) {
	s := &thinkSplitter{}
	s.Feed("<think>")

	events := s.Feed("line one\n")
	if len(events) != 1 || events[0].Type != models.StreamThinking {
		t.Fatalf("expected a thinking flush on newline, got %v", events)
	}
}

func TestSplitter_ThinkingFlushesOverThreshold(t *testing.T) {
	s := &thinkSplitter{}
	s.Feed("<think>")

	long := strings.Repeat("x", thinkingFlushThreshold+1)
	events := s.Feed(long)
	if len(events) != 1 || events[0].Type != models.StreamThinking {
		t.Fatalf("expected a thinking flush past the threshold, got %v", events)
	}
	if events[0].Content != long {
		t.Fatalf("flush must carry the whole buffer")
	}
}

func TestSplitter_FlushDrainsUnclosedThinking(t *testing.T) {
	s := &thinkSplitter{}
	s.Feed("<think>never closed")

	events := s.Flush()
	if len(events) != 1 || events[0].Type != models.StreamThinking {
		t.Fatalf("expected unclosed reasoning on flush, got %v", events)
	}
	if events[0].Content != "never closed" {
		t.Fatalf("unexpected flush content %q", events[0].Content)
	}
}

func TestSplitter_FlushIgnoresWhitespace(t *testing.T) {
	s := &thinkSplitter{}
	s.Feed("<think>a</think>")
	s.Feed(" \n ")

	if events := s.Flush(); len(events) != 0 {
		t.Fatalf("whitespace-only buffer must not flush, got %v", events)
	}
}

func TestStripThinking(t *testing.T) {
	got := stripThinking("<think>reasoning\nhere</think>  final answer")
	if got != "final answer" {
		t.Fatalf("expected %q, got %q", "final answer", got)
	}

	// A response that is all reasoning falls back to the raw text.
	raw := "<think>only reasoning</think>"
	if got := stripThinking(raw); got != raw {
		t.Fatalf("expected raw fallback, got %q", got)
	}

	if got := stripThinking("no tags at all"); got != "no tags at all" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
