package pricing

import (
	"sync"
	"time"
)

// CallRecord is one LLM call's usage, stored verbatim (spec §3
// TokenRecord, §4.11).
type CallRecord struct {
	ModelName     string
	Usage         Usage
	RunID         string
	ParentRunID   string
	Timestamp     time.Time
}

// Tracker aggregates per-call usage records installed as a callback into
// every LLM call (spec §4.11 "TokenTracker callback"); thread-safe under
// a single mutex (spec §5 "Token tracker").
type Tracker struct {
	mu        sync.Mutex
	calls     []CallRecord
	aggregate map[string]Usage
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{aggregate: make(map[string]Usage)}
}

// Record stores one call's usage and folds it into the per-model
// aggregate.
func (t *Tracker) Record(rec CallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, rec)

	agg := t.aggregate[rec.ModelName]
	agg.InputTokens += rec.Usage.InputTokens
	agg.OutputTokens += rec.Usage.OutputTokens
	agg.CachedTokens += rec.Usage.CachedTokens
	agg.Cache5mTokens += rec.Usage.Cache5mTokens
	agg.Cache1hTokens += rec.Usage.Cache1hTokens
	agg.CacheStorage += rec.Usage.CacheStorage
	t.aggregate[rec.ModelName] = agg
}

// Calls returns a copy of every recorded call, in recording order.
func (t *Tracker) Calls() []CallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CallRecord, len(t.calls))
	copy(out, t.calls)
	return out
}

// Aggregate returns a copy of the per-model summed usage.
func (t *Tracker) Aggregate() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Usage, len(t.aggregate))
	for k, v := range t.aggregate {
		out[k] = v
	}
	return out
}

// ExtractOpenAIUsageMetadata normalizes the LangChain-style
// usage_metadata shape: input_token_details/output_token_details.
func ExtractOpenAIUsageMetadata(inputTokens, outputTokens int, inputDetails, outputDetails map[string]int) Usage {
	u := Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	if inputDetails != nil {
		u.CachedTokens = inputDetails["cache_read"]
	}
	if outputDetails != nil {
		u.CachedTokens += outputDetails["cache_read"]
	}
	return u
}

// ExtractOpenAIResponseMetadata normalizes the
// response_metadata.token_usage shape: prompt_tokens_details.
func ExtractOpenAIResponseMetadata(promptTokens, completionTokens int, promptTokensDetails map[string]int) Usage {
	u := Usage{InputTokens: promptTokens, OutputTokens: completionTokens}
	if promptTokensDetails != nil {
		u.CachedTokens = promptTokensDetails["cached_tokens"]
	}
	return u
}

// AnthropicCacheCreation is the Anthropic response_metadata.usage.
// cache_creation shape.
type AnthropicCacheCreation struct {
	Ephemeral5mInputTokens int
	Ephemeral1hInputTokens int
}

// ExtractAnthropicUsage normalizes the Anthropic
// response_metadata.usage shape: cache_read_input_tokens and
// cache_creation.ephemeral_5m_input_tokens/ephemeral_1h_input_tokens.
func ExtractAnthropicUsage(inputTokens, outputTokens, cacheReadInputTokens int, creation AnthropicCacheCreation) Usage {
	return Usage{
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		CachedTokens:  cacheReadInputTokens,
		Cache5mTokens: creation.Ephemeral5mInputTokens,
		Cache1hTokens: creation.Ephemeral1hInputTokens,
	}
}
