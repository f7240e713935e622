// Package playstore is the durable, atomic on-disk repository of plays
// partitioned by lifecycle state (C3). One directory per state; moving a
// play's file between directories *is* a state transition. The filesystem
// remains the single source of truth — SPEC_FULL.md §4.3 keeps this design
// deliberately, adding only a secondary, query-only audit ledger elsewhere.
package playstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/logging"
	"github.com/optionstrike/engine/internal/playtypes"
)

var log = logging.For("playstore")

// Store is the filesystem-backed play repository.
type Store struct {
	root string

	mu        sync.Mutex // guards the per-play lock map itself
	playLocks map[string]*sync.Mutex

	quarantineMu sync.Mutex
}

// New opens (creating if absent) a Store rooted at dir, with one
// subdirectory per lifecycle state.
func New(dir string) (*Store, error) {
	for _, st := range playtypes.AllStates {
		if err := os.MkdirAll(filepath.Join(dir, st.Dir()), 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory %s: %w", st.Dir(), err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "quarantine"), 0o755); err != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", err)
	}
	return &Store{root: dir, playLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.playLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.playLocks[id] = l
	}
	return l
}

func (s *Store) pathIn(state playtypes.State, id string) string {
	return filepath.Join(s.root, state.Dir(), id+".json")
}

// List returns the ids of every play stored under the given state.
func (s *Store) List(state playtypes.State) ([]string, error) {
	dir := filepath.Join(s.root, state.Dir())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", state, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	return ids, nil
}

// find locates which state directory currently holds id (P2: a singleton
// location at every stable moment).
func (s *Store) find(id string) (playtypes.State, string, error) {
	for _, st := range playtypes.AllStates {
		p := s.pathIn(st, id)
		if _, err := os.Stat(p); err == nil {
			return st, p, nil
		}
	}
	return "", "", fmt.Errorf("play %s not found in any state directory", id)
}

// Load reads and validates a play by id, locating it by scanning state
// directories. Malformed records are quarantined, never returned.
func (s *Store) Load(id string) (*playtypes.Play, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*playtypes.Play, error) {
	_, path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return s.loadFile(path)
}

func (s *Store) loadFile(path string) (*playtypes.Play, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is constructed from the store's own root + validated state dirs
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var p playtypes.Play
	if err := json.Unmarshal(data, &p); err != nil {
		s.quarantine(path, err)
		return nil, &errs.IntegrityError{PlayID: filepath.Base(path), Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	playtypes.Normalize(&p)
	if err := playtypes.Validate(&p); err != nil {
		s.quarantine(path, err)
		return nil, err
	}
	return &p, nil
}

// quarantine moves a malformed record aside for inspection rather than
// silently dropping it (spec.md §4.3).
func (s *Store) quarantine(path string, cause error) {
	s.quarantineMu.Lock()
	defer s.quarantineMu.Unlock()
	dest := filepath.Join(s.root, "quarantine", filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Errorf("quarantining %s: %v (original error: %v)", path, err, cause)
		return
	}
	log.Warnf("quarantined malformed play record %s: %v", filepath.Base(path), cause)
}

// Save atomically persists p in its current state directory without
// changing which directory it lives in (use Transition to move states).
// Writes use the standard sibling-temp-file + fsync + rename sequence so a
// crash mid-write never corrupts the existing record.
func (s *Store) Save(p *playtypes.Play) error {
	lock := s.lockFor(p.ID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeAtomic(s.pathIn(p.State, p.ID), p)
}

func (s *Store) writeAtomic(path string, p *playtypes.Play) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling play %s: %w", p.ID, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Transition moves play id from its current state to newState, validating
// the edge and performing the write-then-rename-dir sequence described in
// spec.md §3/§5: the new record is written at the destination path first,
// then the source file is removed. A crash between the two leaves the play
// readable at its *previous* location only (never duplicated, since the
// destination write is the atomic step — a reader never observes both).
func (s *Store) Transition(id string, newState playtypes.State, mutate func(*playtypes.Play)) (*playtypes.Play, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	curState, curPath, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if !playtypes.ValidTransition(curState, newState) {
		return nil, &errs.ValidationError{Subject: id, Reason: fmt.Sprintf("illegal transition %s -> %s", curState, newState)}
	}
	p, err := s.loadFile(curPath)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(p)
	}
	p.State = newState

	destPath := s.pathIn(newState, id)
	if err := s.writeAtomic(destPath, p); err != nil {
		return nil, fmt.Errorf("writing destination state for %s: %w", id, err)
	}
	if curPath != destPath {
		if err := os.Remove(curPath); err != nil {
			// Destination already holds the authoritative record; a
			// leftover source file would make find() ambiguous on
			// restart, so this is reported but not retried silently.
			log.Errorf("removing old state file %s after transition: %v", curPath, err)
			return p, fmt.Errorf("transition of %s wrote new state but left stale source file: %w", id, err)
		}
	}
	return p, nil
}

// Roll performs the OPEN -> OPEN same-state transition used for SHORT
// rolls: it does not change directory, only rewrites the record in place
// and bumps roll bookkeeping via mutate.
func (s *Store) Roll(id string, mutate func(*playtypes.Play)) (*playtypes.Play, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	curState, curPath, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if curState != playtypes.StateOpen {
		return nil, &errs.ValidationError{Subject: id, Reason: "roll is only valid for OPEN plays"}
	}
	p, err := s.loadFile(curPath)
	if err != nil {
		return nil, err
	}
	mutate(p)
	if err := s.writeAtomic(curPath, p); err != nil {
		return nil, fmt.Errorf("writing rolled play %s: %w", id, err)
	}
	return p, nil
}

// Archive removes a terminal play's file after its audit ledger row has
// been durably recorded elsewhere. Only valid for CLOSED/EXPIRED plays.
func (s *Store) Archive(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	state, path, err := s.find(id)
	if err != nil {
		return err
	}
	if !state.Terminal() {
		return &errs.ValidationError{Subject: id, Reason: "archive is only valid for terminal-state plays"}
	}
	return os.Remove(path)
}
