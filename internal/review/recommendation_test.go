package review

import (
	"errors"
	"testing"

	"github.com/voratiq/voratiq/internal/types"
)

func TestParseRecommendationRejectsInvalidJSON(t *testing.T) {
	_, err := ParseRecommendation([]byte("{not json"))
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}

func TestValidateOutputHappyPath(t *testing.T) {
	reviewMD := "r_aaaaaaaaaa had the cleanest diff. r_bbbbbbbbbb looked solid overall."
	rec := &Recommendation{
		Version:         1,
		PreferredAgents: []string{"r_aaaaaaaaaa", "r_bbbbbbbbbb"},
		Rationale:       "a is cleaner",
	}
	eligible := []string{"r_aaaaaaaaaa", "r_bbbbbbbbbb"}
	if err := ValidateOutput(reviewMD, rec, eligible); err != nil {
		t.Fatalf("expected valid output, got %v", err)
	}
}

func TestValidateOutputRejectsEmptyReviewMD(t *testing.T) {
	rec := &Recommendation{Version: 1, PreferredAgents: []string{"r_aaaaaaaaaa"}}
	err := ValidateOutput("   ", rec, []string{"r_aaaaaaaaaa"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}

func TestValidateOutputRejectsWrongVersion(t *testing.T) {
	rec := &Recommendation{Version: 2, PreferredAgents: []string{"r_aaaaaaaaaa"}}
	err := ValidateOutput("some review text", rec, []string{"r_aaaaaaaaaa"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}

func TestValidateOutputRejectsNonEligibleAlias(t *testing.T) {
	rec := &Recommendation{Version: 1, PreferredAgents: []string{"r_unknown000"}}
	err := ValidateOutput("some review text", rec, []string{"r_aaaaaaaaaa"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}

func TestValidateOutputRejectsDuplicateAlias(t *testing.T) {
	rec := &Recommendation{Version: 1, PreferredAgents: []string{"r_aaaaaaaaaa", "r_aaaaaaaaaa"}}
	err := ValidateOutput("some review text", rec, []string{"r_aaaaaaaaaa"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}

func TestValidateOutputRejectsOrderMismatch(t *testing.T) {
	reviewMD := "r_aaaaaaaaaa was mentioned first, r_bbbbbbbbbb second."
	rec := &Recommendation{
		Version:         1,
		PreferredAgents: []string{"r_bbbbbbbbbb", "r_aaaaaaaaaa"}, // reversed vs. mention order
	}
	err := ValidateOutput(reviewMD, rec, []string{"r_aaaaaaaaaa", "r_bbbbbbbbbb"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected order-mismatch error, got %v", err)
	}
}

func TestExtractRankingOrdersByFirstMention(t *testing.T) {
	text := "r_bbbbbbbbbb did fine. r_aaaaaaaaaa was better overall."
	ranking := ExtractRanking(text, []string{"r_aaaaaaaaaa", "r_bbbbbbbbbb"})
	if ranking[0] != "r_bbbbbbbbbb" || ranking[1] != "r_aaaaaaaaaa" {
		t.Fatalf("expected mention order, got %v", ranking)
	}
}

func TestExtractRankingUnmentionedSortsLast(t *testing.T) {
	text := "r_aaaaaaaaaa was the only one discussed."
	ranking := ExtractRanking(text, []string{"r_bbbbbbbbbb", "r_aaaaaaaaaa"})
	if ranking[len(ranking)-1] != "r_bbbbbbbbbb" {
		t.Fatalf("expected unmentioned alias last, got %v", ranking)
	}
}

func TestDealiasResolvesRealAgentIDs(t *testing.T) {
	aliasMap := map[string]string{"r_aaaaaaaaaa": "alpha", "r_bbbbbbbbbb": "beta"}
	resolved, err := Dealias(aliasMap, []string{"r_bbbbbbbbbb", "r_aaaaaaaaaa"})
	if err != nil {
		t.Fatalf("Dealias: %v", err)
	}
	if resolved[0] != "beta" || resolved[1] != "alpha" {
		t.Fatalf("unexpected resolution: %v", resolved)
	}
}

func TestDealiasRejectsUnknownAlias(t *testing.T) {
	aliasMap := map[string]string{"r_aaaaaaaaaa": "alpha"}
	_, err := Dealias(aliasMap, []string{"r_unknown000"})
	if !errors.Is(err, types.ErrReviewGenerationFailed) {
		t.Fatalf("expected ErrReviewGenerationFailed, got %v", err)
	}
}
