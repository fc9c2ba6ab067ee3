// Package review implements the blinded review pipeline (C8): candidate
// aliasing, shared read-only input staging, leakage assertion, reviewer
// output validation, and de-aliasing. It is the highest-stakes integrity
// feature in voratiq — a reviewer must never be able to infer which real
// agent produced which diff.
package review

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// aliasAlphabet is lowercase base36: digits plus lowercase letters.
const aliasAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// aliasSuffixLen is the number of random characters following the "r_"
// prefix, per the Data Model's "ten lowercase alphanumerics" invariant.
const aliasSuffixLen = 10

// GenerateAlias returns a new candidate alias of the form
// "r_<10 lowercase alphanumerics>". Entropy is sourced from
// google/uuid's random bits (the ecosystem library the rest of the pack
// reaches for), re-encoded in base36 since the alias shape the spec
// mandates is its own fixed-length alphanumeric form, not UUID's
// hyphenated hex.
func GenerateAlias() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	n := new(big.Int).SetBytes(id[:])
	encoded := strings.ToLower(n.Text(36))

	var suffix string
	if len(encoded) >= aliasSuffixLen {
		suffix = encoded[:aliasSuffixLen]
	} else {
		suffix = strings.Repeat("0", aliasSuffixLen-len(encoded)) + encoded
	}
	return "r_" + suffix, nil
}

// GenerateUniqueAlias returns a new alias not already present as a key in
// taken, retrying on the astronomically unlikely collision.
func GenerateUniqueAlias(taken map[string]string) (string, error) {
	for {
		alias, err := GenerateAlias()
		if err != nil {
			return "", err
		}
		if _, exists := taken[alias]; !exists {
			return alias, nil
		}
	}
}

// AliasMapsEqual reports whether two alias maps are identical. Nothing
// outside the tests calls it: the review pipeline does not compare the
// alias maps that different reviewers of a session observe.
func AliasMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
