// Package normalize implements the single content-normalization function
// shared by the streaming layer and the context-summarization middleware
// (spec §4.10), so content is never counted twice and status signals
// never leak as chunks.
package normalize

// Kind discriminates normalized content.
type Kind string

const (
	KindText      Kind = "text"
	KindReasoning Kind = "reasoning"
	KindNone      Kind = ""
)

// Result is the output of Content: Text is empty and Kind is KindNone for
// metadata-only or status-signal inputs that callers must not emit as a
// chunk.
type Result struct {
	Text string
	Kind Kind
}

func (r Result) IsSignal() bool { return r.Kind == KindNone }

// Content normalizes one piece of agent output (spec §4.10). Supported
// shapes: plain strings, {type:"thinking", thinking}, {type:"reasoning",
// summary:[...]}, {type:"reasoning", status, ...} (status signal, no
// summary), {text}, and lists of any of the above.
func Content(v any) Result {
	switch t := v.(type) {
	case string:
		if t == "" {
			return Result{}
		}
		return Result{Text: t, Kind: KindText}

	case []any:
		return normalizeList(t)

	case map[string]any:
		return normalizeMap(t)

	default:
		return Result{}
	}
}

func normalizeMap(m map[string]any) Result {
	typ, _ := m["type"].(string)

	switch typ {
	case "thinking":
		if text, ok := m["thinking"].(string); ok && text != "" {
			return Result{Text: text, Kind: KindReasoning}
		}
		return Result{}

	case "reasoning":
		if summary, ok := m["summary"].([]any); ok {
			var combined string
			for _, item := range summary {
				if part, ok := item.(map[string]any); ok {
					if text, ok := part["text"].(string); ok {
						combined += text
					}
				}
			}
			if combined != "" {
				return Result{Text: combined, Kind: KindReasoning}
			}
			return Result{}
		}
		// status-only reasoning object: {status: in_progress|completed, ...}
		// without a summary is a lifecycle status signal, not content.
		return Result{}
	}

	if text, ok := m["text"].(string); ok && text != "" {
		return Result{Text: text, Kind: KindText}
	}

	return Result{}
}

func normalizeList(items []any) Result {
	var text string
	kind := KindNone
	for _, item := range items {
		r := Content(item)
		if r.IsSignal() {
			continue
		}
		text += r.Text
		if r.Kind == KindReasoning {
			kind = KindReasoning
		} else if kind == KindNone {
			kind = KindText
		}
	}
	if text == "" {
		return Result{}
	}
	return Result{Text: text, Kind: kind}
}
