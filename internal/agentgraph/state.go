// Package agentgraph defines the capability contract between the Turn
// Pipeline and the external agent graph (spec §4.9, §9 "deep nested
// dicts for agent state"). Implementing the graph's own reasoning is out
// of scope; this package only carries the subset of state the core reads
// and the event stream the core must encode onto SSE.
package agentgraph

import "context"

// State is the tagged subset of agent state the core understands. Extra
// carries anything else opaquely so resume never silently drops data the
// graph itself produced.
type State struct {
	Observations     []any          `json:"observations,omitempty"`
	Resources        []any          `json:"resources,omitempty"`
	UsedToolResults  []any          `json:"used_tool_results,omitempty"`
	CurrentPlan      any            `json:"current_plan,omitempty"`
	PlanIterations    int           `json:"plan_iterations"`
	RetryCounts       map[string]int `json:"retry_counts,omitempty"`
	FinalReport      string         `json:"final_report,omitempty"`
	Messages         []Message      `json:"messages,omitempty"`
	Extra            map[string]any `json:"-"`
}

// Message is one turn message as the graph consumes it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PreserveFields lists the state fields spec §4.9 step 6 keeps across a
// resume merge: accumulated observations, resources, tool-result history
// and "market type" (read here as the opaque Extra["market_type"] entry,
// since the source never defines a first-class field for it — see
// DESIGN.md open-question decision).
var PreserveFields = []string{"observations", "resources", "used_tool_results", "market_type"}

// ResetFields lists the state fields a resume merge zeroes.
var ResetFields = []string{"current_plan", "plan_iterations", "retry_counts"}

// MergeResume implements the spec §4.9 step 6 merge semantics: preserve
// accumulated observations/resources/tool-result history/market type,
// reset plan/iteration/retry counters, override user config flags from
// fresh, and append fresh's new messages after prior's.
func MergeResume(prior, fresh State) State {
	merged := State{
		Observations:    prior.Observations,
		Resources:       prior.Resources,
		UsedToolResults: prior.UsedToolResults,
		CurrentPlan:     nil,
		PlanIterations:  0,
		RetryCounts:      make(map[string]int),
		FinalReport:     fresh.FinalReport,
		Messages:        append(append([]Message{}, prior.Messages...), fresh.Messages...),
		Extra:           make(map[string]any, len(fresh.Extra)),
	}
	for k, v := range prior.Extra {
		merged.Extra[k] = v
	}
	if mt, ok := prior.Extra["market_type"]; ok {
		merged.Extra["market_type"] = mt
	}
	for k, v := range fresh.Extra {
		merged.Extra[k] = v
	}
	return merged
}

// EventKind discriminates the SSE frame union (spec §9 "async generators
// for streaming").
type EventKind string

const (
	EventMessageChunk        EventKind = "message_chunk"
	EventSummarizationSignal EventKind = "summarization_signal"
	EventTokenUsage          EventKind = "token_usage"
	EventDone                EventKind = "done"
)

// Event is the single discriminated-union type the graph emits; the Turn
// Pipeline is the sole encoder onto wire frames (spec §9).
type Event struct {
	Kind EventKind

	// message_chunk
	ContentType string
	Text        string

	// summarization_signal
	Signal         string
	SummaryLength  int
	SignalError    string

	// token_usage
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// done
	Status     string
	ResponseID string
}

// Graph is the external capability the Turn Pipeline drives. A real
// implementation lives outside this module; invoking the LLM itself is an
// explicit non-goal of this core.
type Graph interface {
	// Run streams Events onto the returned channel until the turn
	// completes or ctx is cancelled; the channel is closed in both cases.
	// The final State reflects what should be persisted as
	// state_snapshot once the channel closes.
	Run(ctx context.Context, state State) (<-chan Event, func() State)
}
