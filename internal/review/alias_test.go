package review

import (
	"regexp"
	"testing"
)

var aliasPattern = regexp.MustCompile(`^r_[0-9a-z]{10}$`)

func TestGenerateAliasShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		alias, err := GenerateAlias()
		if err != nil {
			t.Fatalf("GenerateAlias: %v", err)
		}
		if !aliasPattern.MatchString(alias) {
			t.Fatalf("alias %q does not match expected shape", alias)
		}
	}
}

func TestGenerateUniqueAliasAvoidsCollisions(t *testing.T) {
	taken := map[string]string{}
	for i := 0; i < 20; i++ {
		alias, err := GenerateUniqueAlias(taken)
		if err != nil {
			t.Fatalf("GenerateUniqueAlias: %v", err)
		}
		if _, exists := taken[alias]; exists {
			t.Fatalf("alias %q collided with an existing entry", alias)
		}
		taken[alias] = "agent"
	}
}

func TestAliasMapsEqual(t *testing.T) {
	a := map[string]string{"r_aaaaaaaaaa": "alpha", "r_bbbbbbbbbb": "beta"}
	b := map[string]string{"r_bbbbbbbbbb": "beta", "r_aaaaaaaaaa": "alpha"}
	if !AliasMapsEqual(a, b) {
		t.Fatal("expected equal alias maps to compare equal regardless of key order")
	}

	c := map[string]string{"r_aaaaaaaaaa": "alpha"}
	if AliasMapsEqual(a, c) {
		t.Fatal("expected maps of different size to compare unequal")
	}

	d := map[string]string{"r_aaaaaaaaaa": "alpha", "r_bbbbbbbbbb": "gamma"}
	if AliasMapsEqual(a, d) {
		t.Fatal("expected divergent values to compare unequal")
	}
}
