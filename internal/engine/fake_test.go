package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// clock is a manual time source. Every tick moves it forward a second so
// writes get distinct update instants.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type record struct {
	kind       tracker.Kind
	id, key    string
	summary    string
	desc       string
	state      string
	resolution string
	assignee   string // user id
	creator    string // email
	parent     string // id (Linear) or key (Jira) of the parent container
	updated    time.Time
	link       *tracker.Pointer
	comments   []tracker.Comment
}

// fakeTracker is an in-memory tracker that serves as either side. It counts
// every write so tests can assert that a converged run is a no-op.
type fakeTracker struct {
	mu     sync.Mutex
	clock  *clock
	system tracker.System
	team   string
	prefix string
	seq    int

	records map[string]*record // by id
	order   []string
	users   map[string]string // email -> id
	self    string

	relations   []tracker.Relation
	transitions []tracker.Transition
	issueLinks  []tracker.IssueLink

	writes      int
	failUpdated error
	failCreate  map[string]error // by summary
	failComment error            // next CreateComment only
}

func newFake(c *clock, system tracker.System) *fakeTracker {
	f := &fakeTracker{
		clock:      c,
		system:     system,
		records:    make(map[string]*record),
		users:      make(map[string]string),
		failCreate: make(map[string]error),
	}
	switch system {
	case tracker.Linear:
		f.team, f.prefix, f.self = "ENG", "ENG", "bot@linear.test"
	default:
		f.prefix, f.self = "PROJ", "bot@jira.test"
		f.transitions = []tracker.Transition{
			{ID: "11", Name: "To Do", To: "To Do"},
			{ID: "21", Name: "Start", To: "In Progress"},
			{ID: "31", Name: "Close", To: "Done", AcceptsResolution: true},
		}
	}
	return f
}

func (f *fakeTracker) addUser(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := string(f.system) + "-user-" + strings.SplitN(email, "@", 2)[0]
	f.users[email] = id
	return id
}

// seed adds a record as if it had been created outside the engine.
func (f *fakeTracker) seed(kind tracker.Kind, summary, desc, state string) *record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(kind, summary, desc, state)
}

func (f *fakeTracker) insert(kind tracker.Kind, summary, desc, state string) *record {
	f.seq++
	rec := &record{
		kind:    kind,
		id:      fmt.Sprintf("%s-id-%d", f.system, f.seq),
		key:     fmt.Sprintf("%s-%d", f.prefix, f.seq),
		summary: summary,
		desc:    desc,
		state:   state,
		updated: f.clock.tick(),
	}
	f.records[rec.id] = rec
	f.order = append(f.order, rec.id)
	return rec
}

// edit changes a record as an outside user would.
func (f *fakeTracker) edit(rec *record, fn func(*record)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(rec)
	rec.updated = f.clock.tick()
}

func (f *fakeTracker) addComment(rec *record, author, email, body string) tracker.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.tick()
	c := tracker.Comment{
		ID:          fmt.Sprintf("c%d", len(rec.comments)+1),
		Author:      author,
		AuthorEmail: email,
		Body:        body,
		Created:     now,
		Updated:     now,
	}
	rec.comments = append(rec.comments, c)
	rec.updated = now
	return c
}

func (f *fakeTracker) editComment(rec *record, id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range rec.comments {
		if rec.comments[i].ID == id {
			rec.comments[i].Body = body
			rec.comments[i].Updated = f.clock.tick()
			rec.updated = rec.comments[i].Updated
		}
	}
}

func (f *fakeTracker) count(kind tracker.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeTracker) only(kind tracker.Kind) *record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *record
	for _, id := range f.order {
		if rec := f.records[id]; rec.kind == kind {
			if found != nil {
				panic("more than one record")
			}
			found = rec
		}
	}
	return found
}

func (f *fakeTracker) get(rec *record) record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *rec
}

func (f *fakeTracker) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeTracker) write(rec *record) {
	f.writes++
	if rec != nil {
		rec.updated = f.clock.tick()
	}
}

func (f *fakeTracker) emailOf(id string) string {
	for email, uid := range f.users {
		if uid == id {
			return email
		}
	}
	return ""
}

func (f *fakeTracker) entity(rec *record) tracker.Entity {
	snap := *rec
	snap.comments = nil
	return &fakeEntity{t: f, rec: snap}
}

func (f *fakeTracker) System() tracker.System { return f.system }
func (f *fakeTracker) Team() string           { return f.team }

func (f *fakeTracker) Updated(_ context.Context, kind tracker.Kind, since time.Time) ([]tracker.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdated != nil {
		return nil, f.failUpdated
	}
	var recs []*record
	for _, id := range f.order {
		rec := f.records[id]
		if rec.kind == kind && !rec.updated.Before(since) {
			recs = append(recs, rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].updated.Before(recs[j].updated) })
	out := make([]tracker.Entity, len(recs))
	for i, rec := range recs {
		out[i] = f.entity(rec)
	}
	return out, nil
}

func (f *fakeTracker) FindByTag(_ context.Context, kind tracker.Kind, tag string) (tracker.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if rec := f.records[id]; rec.kind == kind && tracker.ContainsTag(rec.desc, tag) {
			return f.entity(rec), nil
		}
	}
	return nil, nil
}

func (f *fakeTracker) FindByBackLink(_ context.Context, kind tracker.Kind, url string) (tracker.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if rec := f.records[id]; rec.kind == kind && rec.link != nil && rec.link.URL == url {
			return f.entity(rec), nil
		}
	}
	return nil, nil
}

func (f *fakeTracker) Lookup(_ context.Context, kind tracker.Kind, p tracker.Pointer) (tracker.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.id == p.ID || (p.ID == "" && rec.key == p.Key) {
			return f.entity(rec), nil
		}
	}
	return nil, nil
}

func (f *fakeTracker) Create(_ context.Context, kind tracker.Kind, fl tracker.Fields) (tracker.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[fl.Summary]; err != nil {
		return nil, err
	}
	state := fl.State
	if f.system == tracker.Jira {
		state = "To Do"
	}
	rec := f.insert(kind, fl.Summary, fl.Description, state)
	rec.parent = fl.Parent
	if fl.Assignee != nil {
		rec.assignee = *fl.Assignee
	}
	if fl.Reporter != nil {
		rec.creator = f.emailOf(*fl.Reporter)
	}
	f.writes++
	return f.entity(rec), nil
}

func (f *fakeTracker) Update(_ context.Context, e tracker.Entity, fl tracker.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[e.ID()]
	if !ok {
		return errors.New("no such record")
	}
	if fl.Summary != "" {
		rec.summary = fl.Summary
	}
	if fl.Description != "" {
		rec.desc = fl.Description
	}
	if fl.Assignee != nil {
		rec.assignee = *fl.Assignee
	}
	if fl.State != "" {
		rec.state = fl.State
	}
	if fl.Parent != "" {
		rec.parent = fl.Parent
	}
	f.write(rec)
	return nil
}

func (f *fakeTracker) Comments(_ context.Context, e tracker.Entity) ([]tracker.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[e.ID()]
	return append([]tracker.Comment(nil), rec.comments...), nil
}

func (f *fakeTracker) CreateComment(_ context.Context, e tracker.Entity, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failComment; err != nil {
		f.failComment = nil
		return err
	}
	rec := f.records[e.ID()]
	now := f.clock.tick()
	rec.comments = append(rec.comments, tracker.Comment{
		ID:          fmt.Sprintf("c%d", len(rec.comments)+1),
		Author:      "Sync Bot",
		AuthorEmail: f.self,
		Body:        body,
		Created:     now,
		Updated:     now,
	})
	f.write(nil)
	return nil
}

func (f *fakeTracker) UpdateComment(_ context.Context, e tracker.Entity, commentID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[e.ID()]
	for i := range rec.comments {
		if rec.comments[i].ID == commentID {
			rec.comments[i].Body = body
			rec.comments[i].Updated = f.clock.tick()
			f.write(nil)
			return nil
		}
	}
	return errors.New("no such comment")
}

func (f *fakeTracker) UserID(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[email], nil
}

func (f *fakeTracker) SelfEmail(context.Context) (string, error) { return f.self, nil }

func (f *fakeTracker) Relations(_ context.Context, since time.Time) ([]tracker.Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.Relation
	for _, rel := range f.relations {
		if !rel.UpdatedAt.Before(since) {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (f *fakeTracker) Transitions(context.Context, tracker.Entity) ([]tracker.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Transition(nil), f.transitions...), nil
}

func (f *fakeTracker) Transition(_ context.Context, e tracker.Entity, t tracker.Transition, resolution string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[e.ID()]
	rec.state = t.To
	rec.resolution = resolution
	f.write(rec)
	return nil
}

func (f *fakeTracker) IssueLinks(_ context.Context, key string) ([]tracker.IssueLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.IssueLink
	for _, l := range f.issueLinks {
		if l.From == key || l.To == key {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeTracker) LinkIssues(_ context.Context, link tracker.IssueLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueLinks = append(f.issueLinks, link)
	f.write(nil)
	return nil
}

// fakeEntity is a snapshot of a record, as a tracker read returns it. Link
// and comment reads go back to the tracker.
type fakeEntity struct {
	t   *fakeTracker
	rec record
}

func (e *fakeEntity) Kind() tracker.Kind     { return e.rec.kind }
func (e *fakeEntity) System() tracker.System { return e.t.system }
func (e *fakeEntity) ID() string             { return e.rec.id }
func (e *fakeEntity) Key() string            { return e.rec.key }
func (e *fakeEntity) URL() string            { return "https://" + string(e.t.system) + ".test/" + e.rec.key }
func (e *fakeEntity) Summary() string        { return e.rec.summary }
func (e *fakeEntity) Description() string    { return e.rec.desc }
func (e *fakeEntity) Resolution() string     { return e.rec.resolution }
func (e *fakeEntity) AssigneeID() string     { return e.rec.assignee }
func (e *fakeEntity) CreatorEmail() string   { return e.rec.creator }
func (e *fakeEntity) ParentKey() string      { return e.rec.parent }
func (e *fakeEntity) UpdatedAt() time.Time   { return e.rec.updated }

func (e *fakeEntity) StateName() (string, bool) { return e.rec.state, e.rec.state != "" }

func (e *fakeEntity) AssigneeEmail() string {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	return e.t.emailOf(e.rec.assignee)
}

// ParentExternalKey follows the parent's link: Jira keys are what Jira
// parents are set by, Linear projects are set by id.
func (e *fakeEntity) ParentExternalKey(context.Context) (string, error) {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	if e.rec.parent == "" {
		return "", nil
	}
	for _, rec := range e.t.records {
		if rec.id != e.rec.parent && rec.key != e.rec.parent {
			continue
		}
		if rec.link == nil {
			return "", nil
		}
		if e.t.system == tracker.Linear {
			return rec.link.Key, nil
		}
		return rec.link.ID, nil
	}
	return "", nil
}

func (e *fakeEntity) ExternalLink(context.Context) (*tracker.Pointer, error) {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	if l := e.t.records[e.rec.id].link; l != nil {
		p := *l
		return &p, nil
	}
	return nil, nil
}

func (e *fakeEntity) CreateLink(_ context.Context, p tracker.Pointer) error {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	rec := e.t.records[e.rec.id]
	if rec.link != nil {
		return nil
	}
	rec.link = &p
	e.t.write(rec)
	return nil
}

func (e *fakeEntity) CommentsSince(_ context.Context, since time.Time) ([]tracker.Comment, error) {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	var out []tracker.Comment
	for _, c := range e.t.records[e.rec.id].comments {
		if c.Created.After(since) || c.Updated.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// memStore is an in-memory checkpoint store.
type memStore struct {
	committed time.Time
	attempt   *time.Time
	commits   int
}

func (s *memStore) LoadCommitted() (time.Time, error) { return s.committed, nil }

func (s *memStore) LoadAttemptIfCrashed() (time.Time, bool, error) {
	if s.attempt == nil {
		return time.Time{}, false, nil
	}
	return *s.attempt, true, nil
}

func (s *memStore) BeginAttempt(t time.Time) error {
	s.attempt = &t
	return nil
}

func (s *memStore) Commit(t time.Time) error {
	s.committed = t
	s.attempt = nil
	s.commits++
	return nil
}

func (s *memStore) Abandon() error {
	s.attempt = nil
	return nil
}

// shape lists every record by what a user would see, independent of ids and
// creation order.
func (f *fakeTracker) shape() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, rec := range f.records {
		line := fmt.Sprintf("%s %q state=%s linked=%t", rec.kind, rec.summary, rec.state, rec.link != nil)
		for _, c := range rec.comments {
			line += fmt.Sprintf(" comment=%q", c.Body)
		}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// crashingStore keeps the attempt marker on Abandon, as a process killed
// mid-run would.
type crashingStore struct{ *memStore }

func (crashingStore) Abandon() error { return nil }

var (
	_ TrackerA        = (*fakeTracker)(nil)
	_ TrackerB        = (*fakeTracker)(nil)
	_ CheckpointStore = (*memStore)(nil)
)
