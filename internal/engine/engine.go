// Package engine runs one checkpointed synchronization pass between Linear
// (tracker A) and Jira (tracker B).
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// ErrAttemptActive is returned when an attempt marker younger than the
// staleness threshold exists.
var ErrAttemptActive = errors.New("a sync attempt is already in progress")

// Options tunes a run.
type Options struct {
	// Concurrency bounds per-entity workers within a phase. Default 4.
	Concurrency int
	// StaleAttempt is the age after which a leftover attempt marker counts
	// as a crash. Zero treats every leftover marker as a crash.
	StaleAttempt time.Duration
	// AutomationEmails are authors whose comments are never mirrored.
	AutomationEmails []string
	// RelationTypes overrides the relation type synonyms.
	RelationTypes map[string]string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine syncs one Linear team with one Jira project.
type Engine struct {
	a      TrackerA
	b      TrackerB
	store  CheckpointStore
	states *tracker.StateMap
	log    *slog.Logger

	concurrency   int
	staleAttempt  time.Duration
	automation    map[string]bool
	relationTypes map[string]string
	now           func() time.Time
}

// New returns an engine. A nil states uses the default mapping; a nil log
// discards output.
func New(a TrackerA, b TrackerB, store CheckpointStore, states *tracker.StateMap, log *slog.Logger, opts Options) *Engine {
	if states == nil {
		states = tracker.DefaultStateMap()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		a:             a,
		b:             b,
		store:         store,
		states:        states,
		log:           log,
		concurrency:   opts.Concurrency,
		staleAttempt:  opts.StaleAttempt,
		automation:    make(map[string]bool),
		relationTypes: make(map[string]string),
		now:           opts.Now,
	}
	if e.concurrency < 1 {
		e.concurrency = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, addr := range opts.AutomationEmails {
		e.automation[strings.ToLower(addr)] = true
	}
	for k, v := range defaultRelationTypes {
		e.relationTypes[k] = v
	}
	for k, v := range opts.RelationTypes {
		e.relationTypes[strings.ToLower(k)] = v
	}
	return e
}

// Result summarizes a run.
type Result struct {
	RunID     string
	Previous  time.Time // committed checkpoint the run started from
	Window    time.Time // attempt start, the upper bound of the reverse window
	Committed time.Time // checkpoint after the run; equals Previous unless Advanced
	Advanced  bool
	// Resumed is set when the window reused a crashed attempt's start.
	Resumed  bool
	Outcomes map[string]int
	Failures []*EntityError

	mu sync.Mutex
}

func (r *Result) count(outcome string) {
	r.mu.Lock()
	r.Outcomes[outcome]++
	r.mu.Unlock()
}

// EntityError is one entity (or relation) that failed to sync.
type EntityError struct {
	Phase string
	Kind  tracker.Kind
	Key   string
	URL   string
	Err   error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Phase, e.Kind, e.Key, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// RunError reports a completed run in which some entities failed. The
// checkpoint was not advanced.
type RunError struct {
	Failures []*EntityError
}

func (e *RunError) Error() string {
	if len(e.Failures) == 1 {
		return "1 entity failed to sync: " + e.Failures[0].Error()
	}
	return fmt.Sprintf("%d entities failed to sync; first: %v", len(e.Failures), e.Failures[0])
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Run performs one pass: reverse sync over [committed, attemptStart), forward
// sync for everything updated since committed, then relation sync. The
// checkpoint advances only when every entity succeeded.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Outcomes: make(map[string]int)}
	log := e.log.With("run", res.RunID)

	committed, err := e.store.LoadCommitted()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	res.Previous, res.Committed = committed, committed

	now := e.now().UTC()
	attemptStart := now
	crashed, ok, err := e.store.LoadAttemptIfCrashed()
	if err != nil {
		return nil, fmt.Errorf("loading attempt marker: %w", err)
	}
	if ok {
		if age := now.Sub(crashed); age < e.staleAttempt {
			return nil, fmt.Errorf("%w (started %s ago)", ErrAttemptActive, age.Round(time.Second))
		}
		if !crashed.Before(committed) && crashed.Before(now) {
			attemptStart = crashed
			res.Resumed = true
		}
		log.Warn("previous run did not complete", "attempt", crashed, "resumed", res.Resumed)
	}
	if err := e.store.BeginAttempt(attemptStart); err != nil {
		return nil, fmt.Errorf("recording attempt: %w", err)
	}
	res.Window = attemptStart
	log.Info("sync started", "committed", committed, "window", attemptStart)

	r := &run{Engine: e, log: log, res: res, committed: committed, attemptStart: attemptStart}
	for _, phase := range []func(context.Context) error{r.reverse, r.forward, r.relations} {
		if err := phase(ctx); err != nil {
			if abandonErr := e.store.Abandon(); abandonErr != nil {
				log.Error("clearing attempt marker", "err", abandonErr)
			}
			return res, err
		}
	}

	if len(res.Failures) > 0 {
		if err := e.store.Abandon(); err != nil {
			return res, fmt.Errorf("clearing attempt marker: %w", err)
		}
		log.Error("sync finished with failures", "failures", len(res.Failures), "advanced", false, "committed", committed)
		return res, &RunError{Failures: res.Failures}
	}

	next := attemptStart
	if next.Before(committed) {
		next = committed
	}
	if err := e.store.Commit(next); err != nil {
		return res, fmt.Errorf("committing checkpoint: %w", err)
	}
	res.Committed = next
	res.Advanced = next.After(committed)
	log.Info("sync finished", "advanced", res.Advanced, "committed", next, "outcomes", res.Outcomes)
	return res, nil
}

// run is the state of one pass.
type run struct {
	*Engine
	log          *slog.Logger
	res          *Result
	committed    time.Time
	attemptStart time.Time
}

// fail logs an entity failure and returns it for collection.
func (r *run) fail(phase string, kind tracker.Kind, key, url string, err error) error {
	fe := &EntityError{Phase: phase, Kind: kind, Key: key, URL: url, Err: err}
	r.res.count("failed")
	r.log.Error("sync failed", "phase", phase, "kind", kind.String(), "key", key, "url", url, "err", err)
	return fe
}

// done logs the outcome of one entity.
func (r *run) done(phase string, ent tracker.Entity, outcome string, attrs ...any) {
	r.res.count(outcome)
	args := append([]any{"phase", phase, "kind", ent.Kind().String(), "key", ent.Key(), "url", ent.URL(), "outcome", outcome}, attrs...)
	r.log.Info("synced", args...)
}

// each runs fn over items with bounded concurrency. Every item runs; the
// returned errors are those of the failed items.
func each[T any](ctx context.Context, n int, items []T, fn func(context.Context, T) error) []error {
	if len(items) == 0 {
		return nil
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(n)
	for _, item := range items {
		item := item
		p.Go(func(ctx context.Context) error { return fn(ctx, item) })
	}
	err := p.Wait()
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// collect adds the failures returned by each to the result.
func (r *run) collect(phase string, errs []error) {
	for _, err := range errs {
		var fe *EntityError
		if !errors.As(err, &fe) {
			fe = &EntityError{Phase: phase, Err: err}
		}
		r.res.Failures = append(r.res.Failures, fe)
	}
}

func (r *run) isAutomation(email string) bool {
	return email != "" && r.automation[strings.ToLower(email)]
}
