package review

import (
	"regexp"
	"strings"

	"github.com/voratiq/voratiq/internal/types"
)

// ForbiddenTokens returns the set of real agent ids and models a given
// reviewer must never see: the id and model of every candidate except
// selfAgentID. An empty selfAgentID forbids every candidate's identity.
func ForbiddenTokens(agents []types.AgentInvocation, selfAgentID string) []string {
	var tokens []string
	for _, a := range agents {
		if a.AgentID == selfAgentID {
			continue
		}
		tokens = append(tokens, a.AgentID)
		if a.Model != "" {
			tokens = append(tokens, a.Model)
		}
	}
	return tokens
}

// AssertNoLeakage scans text for a bounded-token, case-insensitive match
// of any forbidden identifier. A match is
// "bounded" if it is not immediately preceded or followed by a letter,
// digit, '_', '.' or '-', so a forbidden token like "gpt-5" does not
// false-positive inside "gpt-5-codex"; partial substring containment is
// not flagged.
func AssertNoLeakage(text string, forbidden []string) error {
	lower := strings.ToLower(text)
	for _, tok := range forbidden {
		if tok == "" {
			continue
		}
		pattern := `(?i)(^|[^a-zA-Z0-9_.-])` + regexp.QuoteMeta(tok) + `($|[^a-zA-Z0-9_.-])`
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(lower) {
			return types.ErrLeakageValidationFailed
		}
	}
	return nil
}
