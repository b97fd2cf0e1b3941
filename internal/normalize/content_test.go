package normalize

import "testing"

func TestContentPlainString(t *testing.T) {
	r := Content("hello")
	if r.Kind != KindText || r.Text != "hello" {
		t.Fatalf("got %+v", r)
	}
}

func TestContentEmptyStringIsSignal(t *testing.T) {
	if !Content("").IsSignal() {
		t.Fatal("expected empty string to normalize to no content")
	}
}

func TestContentThinking(t *testing.T) {
	r := Content(map[string]any{"type": "thinking", "thinking": "pondering"})
	if r.Kind != KindReasoning || r.Text != "pondering" {
		t.Fatalf("got %+v", r)
	}
}

func TestContentReasoningSummary(t *testing.T) {
	r := Content(map[string]any{
		"type": "reasoning",
		"summary": []any{
			map[string]any{"text": "part one. "},
			map[string]any{"text": "part two."},
		},
	})
	if r.Kind != KindReasoning || r.Text != "part one. part two." {
		t.Fatalf("got %+v", r)
	}
}

func TestContentReasoningStatusSignalSuppressed(t *testing.T) {
	r := Content(map[string]any{"type": "reasoning", "status": "in_progress"})
	if !r.IsSignal() {
		t.Fatalf("expected status-only reasoning object to be suppressed, got %+v", r)
	}
}

func TestContentTextField(t *testing.T) {
	r := Content(map[string]any{"text": "plain"})
	if r.Kind != KindText || r.Text != "plain" {
		t.Fatalf("got %+v", r)
	}
}

func TestContentListFlipsToReasoningWhenPresentAnywhere(t *testing.T) {
	r := Content([]any{
		"plain text ",
		map[string]any{"type": "thinking", "thinking": "hidden reasoning"},
	})
	if r.Kind != KindReasoning {
		t.Fatalf("expected list containing reasoning to flip kind, got %+v", r)
	}
}

func TestContentMetadataOnlyObject(t *testing.T) {
	r := Content(map[string]any{"id": "abc", "role": "assistant"})
	if !r.IsSignal() {
		t.Fatalf("expected metadata-only object to normalize to no content, got %+v", r)
	}
}
