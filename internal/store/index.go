package store

import (
	"os"

	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/types"
)

// readIndex loads a domain's index.json, returning an empty Index (version
// 1, no sessions) if the file does not yet exist.
func readIndex(repoRoot string, domain types.Domain) (*types.Index, error) {
	path, err := layout.IndexPath(domain)
	if err != nil {
		return nil, err
	}
	idx := &types.Index{Version: 1}
	if err := readJSON(joinRoot(repoRoot, path), idx); err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, &types.ParseError{Path: path, Err: err}
	}
	return idx, nil
}

// upsertIndex rewrites a domain's index.json with entry inserted or
// updated in place, preserving append order for new entries.
func upsertIndex(repoRoot string, domain types.Domain, entry types.IndexEntry) error {
	idx, err := readIndex(repoRoot, domain)
	if err != nil {
		return err
	}

	found := false
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == entry.ID {
			idx.Sessions[i] = entry
			found = true
			break
		}
	}
	if !found {
		idx.Sessions = append(idx.Sessions, entry)
	}

	path, err := layout.IndexPath(domain)
	if err != nil {
		return err
	}
	return atomicWriteJSON(joinRoot(repoRoot, path), idx)
}

// indexEntryFor derives the index projection for a record.
func indexEntryFor(r *types.Record) types.IndexEntry {
	entry := types.IndexEntry{
		ID:          r.ID,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	switch r.Domain {
	case types.DomainRun:
		if r.Run != nil {
			entry.Summary = r.Run.SpecPath
			entry.DeletedAt = r.Run.DeletedAt
		}
	case types.DomainSpec:
		if r.Spec != nil {
			entry.Summary = r.Spec.Title
		}
	case types.DomainReview:
		if r.Review != nil {
			entry.Summary = r.Review.RunID
		}
	}
	return entry
}
