// Package checkpoint persists the sync frontier: the last committed instant
// and the marker of an attempt in progress.
//
// Two small files live in the state directory:
//
//	committed   instant before which everything is reconciled
//	attempt     instant the current (or crashed) run started
//
// Each holds one RFC 3339 timestamp. The presence of attempt is itself
// state: it survives only when a run died before committing.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	committedFile = "committed"
	attemptFile   = "attempt"
	lockFile      = "run.lock"
)

// ErrLocked is returned by Lock when another process holds the run lock.
var ErrLocked = errors.New("another sync run holds the lock")

// Store is a directory-backed checkpoint store.
type Store struct {
	dir string
}

// Open prepares dir (creating it if needed) and returns a store over it.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Lock takes the exclusive run lock without blocking. The returned func
// releases it.
func (s *Store) Lock() (func() error, error) {
	lock := flock.New(filepath.Join(s.dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}

// LoadCommitted returns the committed instant, or the zero time when no run
// has ever committed.
func (s *Store) LoadCommitted() (time.Time, error) {
	t, ok, err := s.read(committedFile)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return t, nil
}

// LoadAttemptIfCrashed returns the instant of an attempt that was started
// but never committed or abandoned.
func (s *Store) LoadAttemptIfCrashed() (time.Time, bool, error) {
	return s.read(attemptFile)
}

// BeginAttempt records that a run covering instants before t has started.
// It must be durable before any remote mutation.
func (s *Store) BeginAttempt(t time.Time) error {
	if err := s.write(attemptFile, t); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Commit advances the committed instant to t, then clears the attempt
// marker. A crash between the two leaves the marker as evidence.
func (s *Store) Commit(t time.Time) error {
	if err := s.write(committedFile, t); err != nil {
		return fmt.Errorf("writing committed checkpoint: %w", err)
	}
	if err := s.remove(attemptFile); err != nil {
		return fmt.Errorf("clearing attempt marker: %w", err)
	}
	return nil
}

// Abandon clears the attempt marker without advancing the checkpoint. Used
// when a run finished but some entities failed.
func (s *Store) Abandon() error {
	if err := s.remove(attemptFile); err != nil {
		return fmt.Errorf("clearing attempt marker: %w", err)
	}
	return nil
}

func (s *Store) read(name string) (time.Time, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading %s: %w", name, err)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing %s: %w", name, err)
	}
	return t, true, nil
}

func (s *Store) write(name string, t time.Time) error {
	content := t.UTC().Format(time.RFC3339Nano) + "\n"
	return atomic.WriteFile(filepath.Join(s.dir, name), strings.NewReader(content))
}

func (s *Store) remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
