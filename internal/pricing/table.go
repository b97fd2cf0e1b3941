// Package pricing implements model pricing lookup and cost computation
// (spec §4.11): flat, tiered, input-dependent-output, and 2D-matrix modes,
// plus cache-tier accounting. Grounded on the flat per-1K pricing table
// and CalculateCost shape carried by the source's own cost tracker, with
// the lookup and mode machinery generalized to the fuller pricing shapes
// the spec requires.
package pricing

import "regexp"

// Mode selects which cost-computation algorithm applies to a model.
type Mode string

const (
	ModeFlat            Mode = "flat"
	ModeTiered          Mode = "tiered"
	ModeInputDependent  Mode = "input_dependent"
	Mode2DMatrix        Mode = "2d_matrix"
)

// Tier is one entry of a tiered rate schedule. MaxTokens == nil means +inf.
type Tier struct {
	MaxTokens    *int
	Rate         float64
	CachedInput  *float64
}

// MatrixEntry is one entry of a 2d_matrix pricing table.
type MatrixEntry struct {
	InputMax    *int
	OutputMax   *int
	Input       float64
	Output      float64
	CachedInput *float64
}

// Model is one priced model, expressed per 1M tokens (spec §4.11).
type Model struct {
	ID       string
	Provider string
	Aliases  []string

	Mode Mode

	// flat
	Input       float64
	Output      float64
	CachedInput *float64

	// tiered / input_dependent (input_dependent uses InputTiers only,
	// applying the matched tier's rate across all output tokens)
	InputTiers  []Tier
	OutputTiers []Tier

	// 2d_matrix
	Matrix []MatrixEntry

	// cache accounting
	CacheHit     *float64
	Cache5m      *float64
	Cache1h      *float64
	CacheStorage *float64
}

// Table is a flat list of priced models, queried by findModelPricing.
type Table []Model

var versionSuffixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`), // -YYYY-MM-DD
	regexp.MustCompile(`-\d{6}$`),             // -YYMMDD or -MMDD+2... ambiguous, tried before YYYYMMDD
	regexp.MustCompile(`-\d{8}$`),             // -YYYYMMDD
	regexp.MustCompile(`-\d{4}$`),             // -MMDD
}

// FindModelPricing resolves a model id to its pricing entry (spec §4.11,
// testable property 5): exact id match, then alias match (both
// case-insensitive), then a single recursive fallback after stripping a
// trailing version-date suffix. provider, when non-empty, restricts the
// search to that provider's models first.
func FindModelPricing(table Table, id, provider string) (*Model, bool) {
	return findModelPricing(table, id, provider, true)
}

func findModelPricing(table Table, id, provider string, allowFallback bool) (*Model, bool) {
	candidates := table
	if provider != "" {
		var filtered Table
		for _, m := range table {
			if equalFold(m.Provider, provider) {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	for _, m := range candidates {
		if equalFold(m.ID, id) {
			return &m, true
		}
	}
	for _, m := range candidates {
		for _, alias := range m.Aliases {
			if equalFold(alias, id) {
				return &m, true
			}
		}
	}

	if !allowFallback {
		return nil, false
	}
	if stripped, ok := stripVersionSuffix(id); ok {
		return findModelPricing(table, stripped, provider, false)
	}
	return nil, false
}

func stripVersionSuffix(id string) (string, bool) {
	for _, re := range versionSuffixPatterns {
		if loc := re.FindStringIndex(id); loc != nil {
			return id[:loc[0]], true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
