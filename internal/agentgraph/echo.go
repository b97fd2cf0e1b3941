package agentgraph

import "context"

// EchoGraph is a minimal Graph used for wiring and tests: it emits one
// message_chunk per input message, a token_usage frame, then done.
type EchoGraph struct{}

func (EchoGraph) Run(ctx context.Context, state State) (<-chan Event, func() State) {
	out := make(chan Event, 8)
	final := state

	go func() {
		defer close(out)
		for _, msg := range state.Messages {
			select {
			case <-ctx.Done():
				out <- Event{Kind: EventDone, Status: "interrupted"}
				return
			case out <- Event{Kind: EventMessageChunk, ContentType: "text", Text: msg.Content}:
			}
		}
		out <- Event{Kind: EventTokenUsage, InputTokens: 0, OutputTokens: 0, TotalTokens: 0}
		out <- Event{Kind: EventDone, Status: "completed"}
	}()

	return out, func() State { return final }
}
