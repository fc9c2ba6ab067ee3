// Package store is the atomic session record store. It persists one
// record.json per session plus a derived per-domain index.json projection,
// and buffers in-flight mutations in memory so a multi-step operation
// (an agent invocation's status marching through queued -> running ->
// succeeded) does not pay a disk round trip on every field change.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/types"
)

type key struct {
	domain types.Domain
	id     string
}

// flushDelay is how long a non-terminal mutation may sit in the buffer
// before the deferred flush persists it. Redundant rewrites within the
// window coalesce into one write.
const flushDelay = 250 * time.Millisecond

// Store is the process-wide handle to one repository's .voratiq data
// directory. Zero value is not usable; construct with Open.
type Store struct {
	repoRoot string

	mu     sync.Mutex
	dirty  map[key]*types.Record
	timers map[key]*time.Timer
}

// Open returns a Store rooted at repoRoot, which must be the top of the
// git working tree (the directory containing .voratiq).
func Open(repoRoot string) *Store {
	return &Store{
		repoRoot: repoRoot,
		dirty:    make(map[key]*types.Record),
		timers:   make(map[key]*time.Timer),
	}
}

func joinRoot(repoRoot, relPath string) string {
	return filepath.Join(repoRoot, filepath.FromSlash(relPath))
}

// Init creates the on-disk skeleton for a domain (sessions dir, an empty
// index.json if absent). Callers call it once per domain at
// `voratiq init`.
func (s *Store) Init(domain types.Domain) error {
	root, err := layout.DomainRoot(domain)
	if err != nil {
		return err
	}
	sessionsDir := joinRoot(s.repoRoot, root+"/sessions")
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", sessionsDir, err)
	}

	indexPath, err := layout.IndexPath(domain)
	if err != nil {
		return err
	}
	full := joinRoot(s.repoRoot, indexPath)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return atomicWriteJSON(full, &types.Index{Version: 1})
	} else if err != nil {
		return err
	}
	return nil
}

// Append creates a brand-new session record. It fails with
// ErrRecordAlreadyExists if record.json is already present on disk for
// this id — Append is a creation primitive, not an upsert.
func (s *Store) Append(record *types.Record) error {
	path, err := layout.RecordPath(record.Domain, record.ID)
	if err != nil {
		return err
	}
	full := joinRoot(s.repoRoot, path)
	if _, err := os.Stat(full); err == nil {
		return types.ErrRecordAlreadyExists
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := atomicWriteJSON(full, record); err != nil {
		return fmt.Errorf("write record %s: %w", record.ID, err)
	}
	if err := s.upsertIndexLocked(record); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.dirty, key{record.Domain, record.ID})
	s.mu.Unlock()
	return nil
}

// Read returns the current record for id, preferring an in-memory buffered
// version (if one is dirty and not yet flushed) over the on-disk copy so
// readers within the same process never observe stale data.
func (s *Store) Read(domain types.Domain, id string) (*types.Record, error) {
	s.mu.Lock()
	if r, ok := s.dirty[key{domain, id}]; ok {
		clone := *r
		s.mu.Unlock()
		return &clone, nil
	}
	s.mu.Unlock()

	path, err := layout.RecordPath(domain, id)
	if err != nil {
		return nil, err
	}
	full := joinRoot(s.repoRoot, path)
	var r types.Record
	if err := readJSON(full, &r); err != nil {
		if os.IsNotExist(err) {
			return nil, &types.NotFoundError{SessionID: id}
		}
		return nil, &types.ParseError{Path: path, Err: err}
	}
	return &r, nil
}

// Rewrite loads the current record (buffered copy if present, else disk),
// applies mutate to a private copy, and — if mutate succeeds and leaves
// the id unchanged — stores the result as the new buffered version and
// schedules a deferred flush after flushDelay, so rapid successive
// rewrites coalesce into one disk write while staleness stays bounded.
// A transition into a terminal status forces a synchronous
// flush-and-dispose instead, since a terminal record is never expected to
// be rewritten again and should not linger only in memory.
func (s *Store) Rewrite(domain types.Domain, id string, mutate func(*types.Record) error) error {
	current, err := s.Read(domain, id)
	if err != nil {
		return err
	}
	next := *current
	if err := mutate(&next); err != nil {
		return err
	}
	if next.ID != current.ID {
		return types.ErrRecordMutationRefused
	}

	k := key{domain, id}
	s.mu.Lock()
	s.dirty[k] = &next
	s.mu.Unlock()

	if next.Status.Terminal() {
		return s.Dispose(domain, id)
	}

	s.scheduleFlush(k)
	return nil
}

// scheduleFlush arms the deferred flush for k if none is pending. An
// already-armed timer is left alone so a burst of rewrites collapses to
// one write. The timer goroutine does not keep the process alive; callers
// that exit before it fires rely on FlushAll, which the CLI invokes
// unconditionally on the way out.
func (s *Store) scheduleFlush(k key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, armed := s.timers[k]; armed {
		return
	}
	s.timers[k] = time.AfterFunc(flushDelay, func() {
		s.mu.Lock()
		delete(s.timers, k)
		s.mu.Unlock()
		_ = s.Flush(k.domain, k.id)
	})
}

// cancelFlush disarms any pending deferred flush for k.
func (s *Store) cancelFlush(k key) {
	s.mu.Lock()
	t, ok := s.timers[k]
	if ok {
		delete(s.timers, k)
	}
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// Flush persists the buffered record for (domain, id), if any, to
// record.json plus its index.json projection, then clears the dirty
// marker. Flushing a record with no pending buffer is a no-op.
func (s *Store) Flush(domain types.Domain, id string) error {
	s.mu.Lock()
	r, ok := s.dirty[key{domain, id}]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.flushRecord(r)
}

// FlushAll persists every buffered record across every domain. It
// collects and joins all flush errors rather than stopping at the first,
// so a transient failure on one session does not hide others.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	pending := make([]*types.Record, 0, len(s.dirty))
	for _, r := range s.dirty {
		pending = append(pending, r)
	}
	s.mu.Unlock()

	var errs []error
	for _, r := range pending {
		if err := s.flushRecord(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) flushRecord(r *types.Record) error {
	s.cancelFlush(key{r.Domain, r.ID})

	path, err := layout.RecordPath(r.Domain, r.ID)
	if err != nil {
		return err
	}
	if err := atomicWriteJSON(joinRoot(s.repoRoot, path), r); err != nil {
		return fmt.Errorf("flush record %s: %w", r.ID, err)
	}
	if err := s.upsertIndexLocked(r); err != nil {
		return err
	}

	s.mu.Lock()
	if cur, ok := s.dirty[key{r.Domain, r.ID}]; ok && cur == r {
		delete(s.dirty, key{r.Domain, r.ID})
	}
	s.mu.Unlock()
	return nil
}

// Dispose flushes (domain, id) if dirty and evicts it from the in-memory
// buffer regardless, releasing its memory once a session has reached a
// terminal status and the caller no longer needs read-your-writes access.
func (s *Store) Dispose(domain types.Domain, id string) error {
	err := s.Flush(domain, id)
	s.cancelFlush(key{domain, id})
	s.mu.Lock()
	delete(s.dirty, key{domain, id})
	s.mu.Unlock()
	return err
}

// upsertIndexLocked serializes the domain's index.json update behind the
// domain's advisory lock so concurrent processes never interleave index
// rewrites.
func (s *Store) upsertIndexLocked(r *types.Record) error {
	lockPath, err := layout.LockPath(r.Domain)
	if err != nil {
		return err
	}
	lock, err := acquireDomainLock(joinRoot(s.repoRoot, lockPath))
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.release()
	}()

	return upsertIndex(s.repoRoot, r.Domain, indexEntryFor(r))
}

// List returns every index entry for a domain, oldest first, as persisted
// — it does not consult the in-memory buffer, since callers list across
// sessions this process did not necessarily create.
func (s *Store) List(domain types.Domain) ([]types.IndexEntry, error) {
	idx, err := readIndex(s.repoRoot, domain)
	if err != nil {
		return nil, err
	}
	return idx.Sessions, nil
}

// Query walks a domain's index newest-first, loads each record.json, and
// applies predicate to each, stopping once limit matching records have
// been collected (limit <= 0 means unbounded). A record that fails to load
// — missing file or parse error — is reported to onWarning (if non-nil)
// and skipped rather than aborting the whole scan.
func (s *Store) Query(domain types.Domain, predicate func(*types.Record) bool, limit int, onWarning func(error)) ([]*types.Record, error) {
	entries, err := s.List(domain)
	if err != nil {
		return nil, err
	}

	var out []*types.Record
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, err := s.Read(domain, entries[i].ID)
		if err != nil {
			if onWarning != nil {
				onWarning(err)
			}
			continue
		}
		if predicate == nil || predicate(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Now returns the current UTC time that callers stamp onto record
// timestamps (CreatedAt, StartedAt, CompletedAt and the like). Kept here rather
// than in internal/types so the store package is the single place that
// decides when a record's lifecycle clock stops.
func Now() time.Time {
	return time.Now().UTC()
}
