package runorch

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// runIDSuffixLen is the number of random lowercase alphanumeric
// characters following the timestamp prefix.
const runIDSuffixLen = 5

// runIDTimeLayout renders the UTC timestamp half of a run id.
const runIDTimeLayout = "20060102-150405"

// GenerateRunID returns a new run id of the form
// "YYYYMMDD-HHMMSS-<5 lowercase alphanumerics>", now taken as the
// timestamp to embed. Entropy for the suffix is sourced from
// google/uuid's random bits, re-encoded in base36, mirroring
// internal/review.GenerateAlias's technique for its own fixed-length
// alphanumeric suffix.
func GenerateRunID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	n := new(big.Int).SetBytes(id[:])
	encoded := strings.ToLower(n.Text(36))

	var suffix string
	if len(encoded) >= runIDSuffixLen {
		suffix = encoded[:runIDSuffixLen]
	} else {
		suffix = strings.Repeat("0", runIDSuffixLen-len(encoded)) + encoded
	}
	return now.UTC().Format(runIDTimeLayout) + "-" + suffix, nil
}
