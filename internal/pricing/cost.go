package pricing

// Usage is a normalized usage record for one LLM call (spec §4.11,
// §3 TokenRecord).
type Usage struct {
	InputTokens   int
	OutputTokens  int
	CachedTokens  int
	Cache5mTokens int
	Cache1hTokens int
	CacheStorage  int
}

// Breakdown is the detailed cost result (spec §4.11).
type Breakdown struct {
	Input           float64
	CachedInput     float64
	CacheStorage    float64
	Cache5mCreation float64
	Cache1hCreation float64
	Output          float64
	Total           float64
}

const perMillion = 1_000_000.0

// Compute prices one Usage against a resolved Model (spec §4.11 "Cost
// computation").
func Compute(m *Model, u Usage) Breakdown {
	var b Breakdown

	switch m.Mode {
	case ModeTiered:
		b.Input = tieredCost(m.InputTiers, u.InputTokens)
		b.Output = tieredCost(m.OutputTiers, u.OutputTokens)
	case ModeInputDependent:
		rate := tierRateForTokens(m.InputTiers, u.InputTokens)
		b.Input = float64(u.InputTokens) / perMillion * rate
		b.Output = float64(u.OutputTokens) / perMillion * rate
	case Mode2DMatrix:
		entry := matrixEntry(m.Matrix, u.InputTokens, u.OutputTokens)
		if entry != nil {
			b.Input = float64(u.InputTokens) / perMillion * entry.Input
			b.Output = float64(u.OutputTokens) / perMillion * entry.Output
		}
	default: // ModeFlat
		b.Input = float64(u.InputTokens) / perMillion * m.Input
		b.Output = float64(u.OutputTokens) / perMillion * m.Output
	}

	b.CachedInput = cachedInputCost(m, u)
	if u.Cache5mTokens > 0 && m.Cache5m != nil {
		b.Cache5mCreation = float64(u.Cache5mTokens) / perMillion * *m.Cache5m
	}
	if u.Cache1hTokens > 0 && m.Cache1h != nil {
		b.Cache1hCreation = float64(u.Cache1hTokens) / perMillion * *m.Cache1h
	}
	if u.CacheStorage > 0 && m.CacheStorage != nil {
		b.CacheStorage = float64(u.CacheStorage) / perMillion * *m.CacheStorage
	}

	b.Total = b.Input + b.CachedInput + b.CacheStorage + b.Cache5mCreation + b.Cache1hCreation + b.Output
	return b
}

// cachedInputCost resolves cache_hit rate, falling back to flat
// cached_input, then per-tier cached_input, else no cache pricing.
func cachedInputCost(m *Model, u Usage) float64 {
	if u.CachedTokens == 0 {
		return 0
	}
	if m.CacheHit != nil {
		return float64(u.CachedTokens) / perMillion * *m.CacheHit
	}
	if m.CachedInput != nil {
		return float64(u.CachedTokens) / perMillion * *m.CachedInput
	}
	for _, t := range m.InputTiers {
		if t.CachedInput != nil && withinTier(t, u.InputTokens) {
			return float64(u.CachedTokens) / perMillion * *t.CachedInput
		}
	}
	return 0
}

// tieredCost sums tier_tokens/1e6 * rate using the standard cumulative
// threshold algorithm.
func tieredCost(tiers []Tier, tokens int) float64 {
	var cost float64
	remaining := tokens
	lowerBound := 0
	for _, tier := range tiers {
		if remaining <= 0 {
			break
		}
		upper := maxInt
		if tier.MaxTokens != nil {
			upper = *tier.MaxTokens
		}
		tierCap := upper - lowerBound
		if tierCap <= 0 {
			lowerBound = upper
			continue
		}
		tierTokens := remaining
		if tierTokens > tierCap {
			tierTokens = tierCap
		}
		cost += float64(tierTokens) / perMillion * tier.Rate
		remaining -= tierTokens
		lowerBound = upper
	}
	return cost
}

const maxInt = int(^uint(0) >> 1)

// tierRateForTokens finds the single tier containing tokens (spec
// §4.11 "input-dependent output").
func tierRateForTokens(tiers []Tier, tokens int) float64 {
	lowerBound := 0
	for _, tier := range tiers {
		upper := maxInt
		if tier.MaxTokens != nil {
			upper = *tier.MaxTokens
		}
		if tokens <= upper {
			return tier.Rate
		}
		lowerBound = upper
	}
	_ = lowerBound
	return 0
}

func withinTier(t Tier, tokens int) bool {
	if t.MaxTokens == nil {
		return true
	}
	return tokens <= *t.MaxTokens
}

// matrixEntry picks the first entry where both bounds are satisfied
// (spec §4.11 "2d_matrix"; scenario S5).
func matrixEntry(matrix []MatrixEntry, inputTokens, outputTokens int) *MatrixEntry {
	for i := range matrix {
		e := &matrix[i]
		if e.InputMax != nil && inputTokens > *e.InputMax {
			continue
		}
		if e.OutputMax != nil && outputTokens > *e.OutputMax {
			continue
		}
		return e
	}
	return nil
}
