package review

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/voratiq/voratiq/internal/types"
)

// RecommendationVersion is the only recommendation schema version accepted.
const RecommendationVersion = 1

// Recommendation is a reviewer's recommendation.json, before and after
// de-aliasing.
type Recommendation struct {
	Version                 int      `json:"version"`
	PreferredAgents         []string `json:"preferred_agents"`
	Rationale               string   `json:"rationale"`
	NextActions             []string `json:"next_actions"`
	ResolvedPreferredAgents []string `json:"resolved_preferred_agents,omitempty"`
}

// ParseRecommendation decodes raw JSON into a Recommendation, wrapping a
// syntax error as ErrReviewGenerationFailed.
func ParseRecommendation(raw []byte) (*Recommendation, error) {
	var rec Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: parse recommendation.json: %v", types.ErrReviewGenerationFailed, err)
	}
	return &rec, nil
}

// ValidateOutput checks review.md is non-empty and recommendation.json
// satisfies the output contract: version is 1, preferred_agents is a subset of
// the eligible alias set, and its order matches the ranking implied by
// reviewMD (the first-mention order of each alias in the review text).
func ValidateOutput(reviewMD string, rec *Recommendation, eligibleAliases []string) error {
	if strings.TrimSpace(reviewMD) == "" {
		return fmt.Errorf("%w: review.md is empty", types.ErrReviewGenerationFailed)
	}
	if rec.Version != RecommendationVersion {
		return fmt.Errorf("%w: unsupported recommendation version %d", types.ErrReviewGenerationFailed, rec.Version)
	}

	eligible := make(map[string]bool, len(eligibleAliases))
	for _, a := range eligibleAliases {
		eligible[a] = true
	}
	seen := make(map[string]bool, len(rec.PreferredAgents))
	for _, alias := range rec.PreferredAgents {
		if !eligible[alias] {
			return fmt.Errorf("%w: preferred agent %q is not an eligible alias", types.ErrReviewGenerationFailed, alias)
		}
		if seen[alias] {
			return fmt.Errorf("%w: preferred agent %q listed more than once", types.ErrReviewGenerationFailed, alias)
		}
		seen[alias] = true
	}

	ranking := ExtractRanking(reviewMD, rec.PreferredAgents)
	if !sameOrder(ranking, rec.PreferredAgents) {
		return fmt.Errorf("%w: preferred_agents order does not match review.md's ranking", types.ErrReviewGenerationFailed)
	}

	return nil
}

// ExtractRanking orders aliases by the position of their first mention in
// text, restricted to the aliases given. An alias never mentioned in text
// sorts after every mentioned one, in its original relative order.
func ExtractRanking(text string, aliases []string) []string {
	type hit struct {
		alias string
		pos   int
	}
	hits := make([]hit, 0, len(aliases))
	for _, alias := range aliases {
		pos := strings.Index(text, alias)
		if pos < 0 {
			pos = len(text) + 1
		}
		hits = append(hits, hit{alias: alias, pos: pos})
	}
	// Stable sort by position preserves input order for ties (including
	// the "never mentioned" sentinel).
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.alias
	}
	return out
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Dealias replaces every alias in preferred with its real agent id,
// so the stored artifact carries both the blinded and resolved lists.
// It errors if any alias is not present in aliasMap.
func Dealias(aliasMap map[string]string, preferred []string) ([]string, error) {
	out := make([]string, len(preferred))
	for i, alias := range preferred {
		real, ok := aliasMap[alias]
		if !ok {
			return nil, fmt.Errorf("%w: alias %q not found in alias map", types.ErrReviewGenerationFailed, alias)
		}
		out[i] = real
	}
	return out, nil
}

// WriteRecommendation overwrites path with rec serialized as pretty JSON
// with a trailing newline, used to persist ResolvedPreferredAgents after
// de-aliasing.
func WriteRecommendation(path string, rec *Recommendation) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0600)
}
