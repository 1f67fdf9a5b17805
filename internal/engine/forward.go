package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

const phaseForward = "forward"

// forward pushes Linear projects and issues updated since the checkpoint
// into Jira. All counterparts are resolved, epics first, before any field
// is propagated.
func (r *run) forward(ctx context.Context) error {
	var ents [2][]tracker.Entity
	for i, kind := range []tracker.Kind{tracker.KindEpic, tracker.KindIssue} {
		list, err := r.a.Updated(ctx, kind, r.committed)
		if err != nil {
			return fmt.Errorf("fetching updated Linear %ss: %w", kind, err)
		}
		ents[i] = list
	}

	pairs := r.resolveAll(ctx, phaseForward, ents[0], r.b, r.createInJira, nil)
	pairs = append(pairs, r.resolveAll(ctx, phaseForward, ents[1], r.b, r.createInJira, nil)...)

	errs := each(ctx, r.concurrency, pairs, func(ctx context.Context, p pair) error {
		if err := r.pushForward(ctx, p); err != nil {
			return r.fail(phaseForward, p.src.Kind(), p.src.Key(), p.src.URL(), err)
		}
		return nil
	})
	r.collect(phaseForward, errs)
	return nil
}

func (r *run) createInJira(ctx context.Context, src tracker.Entity) (tracker.Entity, error) {
	f, err := r.forwardFields(ctx, src, nil)
	if err != nil {
		return nil, err
	}
	if id, err := r.b.UserID(ctx, src.CreatorEmail()); err != nil {
		return nil, err
	} else if id != "" {
		f.Reporter = &id
	}
	e, err := r.b.Create(ctx, src.Kind(), f)
	if err != nil {
		return nil, err
	}
	r.log.Info("created in Jira", "kind", src.Kind().String(), "key", src.Key(), "counterpart", e.Key())
	return e, nil
}

// forwardFields computes what Jira needs to mirror src. Fields already equal
// on dst are left unset; a nil dst yields the full create set.
func (r *run) forwardFields(ctx context.Context, src, dst tracker.Entity) (tracker.Fields, error) {
	var f tracker.Fields

	if dst == nil || dst.Summary() != src.Summary() {
		f.Summary = src.Summary()
	}

	want := tracker.StripTags(src.Description())
	_, fromJira := tracker.FindTag(src.Description(), tracker.Jira)
	tag := tracker.Tag(tracker.Linear, src.ID())
	if !fromJira {
		want = tracker.AppendTag(want, tag)
	}
	if dst == nil || !tracker.SameText(dst.Description(), want) || (!fromJira && !tracker.ContainsTag(dst.Description(), tag)) {
		f.Description = want
	}

	assignee, err := r.assigneeField(ctx, src, r.b, dst)
	if err != nil {
		return f, err
	}
	f.Assignee = assignee

	if src.Kind() == tracker.KindIssue {
		parent, err := src.ParentExternalKey(ctx)
		if err != nil {
			return f, fmt.Errorf("resolving parent: %w", err)
		}
		if parent != "" && (dst == nil || dst.ParentKey() != parent) {
			f.Parent = parent
		}
	}
	return f, nil
}

// pushForward propagates fields, comments and state of one resolved pair.
func (r *run) pushForward(ctx context.Context, p pair) error {
	wrote := false

	f, err := r.forwardFields(ctx, p.src, p.dst)
	if err != nil {
		return err
	}
	if !empty(f) {
		if err := r.b.Update(ctx, p.dst, f); err != nil {
			return err
		}
		wrote = true
	}

	n, err := r.mirrorComments(ctx, p.src, p.dst, r.a, r.b)
	if err != nil {
		return err
	}
	wrote = wrote || n > 0

	moved, err := r.transition(ctx, p.src, p.dst)
	if err != nil {
		return err
	}
	wrote = wrote || moved

	r.done(phaseForward, p.src, outcome(p.created, wrote), "counterpart", p.dst.Key(), "comments", n)
	return nil
}

// transition moves dst to the Jira status src's state maps to, through a
// transition named after the status or leading to it. States with no such
// transition are logged and left alone.
func (r *run) transition(ctx context.Context, src, dst tracker.Entity) (bool, error) {
	state, ok := src.StateName()
	if !ok {
		r.log.Warn("state not in vocabulary; transition skipped", "kind", src.Kind().String(), "key", src.Key())
		return false, nil
	}
	target, ok := r.states.ToJira(state)
	if !ok {
		r.log.Warn("state has no Jira mapping; transition skipped", "key", src.Key(), "state", state)
		return false, nil
	}
	status, _ := dst.StateName()
	if r.states.Equivalent(state, status, dst.Resolution()) {
		return false, nil
	}

	ts, err := r.b.Transitions(ctx, dst)
	if err != nil {
		return false, err
	}
	for _, t := range ts {
		if strings.EqualFold(t.Name, target.Status) || strings.EqualFold(t.To, target.Status) {
			if err := r.b.Transition(ctx, dst, t, target.Resolution); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	r.log.Warn("no transition to mapped status; skipped", "key", dst.Key(), "from", status, "to", target.Status)
	return false, nil
}

// assigneeField maps src's assignee into the tracker dst lives in. It
// returns nil when nothing should change: equal already, the user is
// unknown there, or src's assignee email is hidden.
func (r *run) assigneeField(ctx context.Context, src tracker.Entity, to Tracker, dst tracker.Entity) (*string, error) {
	email := src.AssigneeEmail()
	if email == "" {
		if src.AssigneeID() != "" || dst == nil || dst.AssigneeID() == "" {
			return nil, nil
		}
		none := ""
		return &none, nil
	}
	if dst != nil && strings.EqualFold(dst.AssigneeEmail(), email) {
		return nil, nil
	}
	id, err := to.UserID(ctx, email)
	if err != nil {
		return nil, err
	}
	if id == "" {
		r.log.Debug("assignee unknown in counterpart tracker", "key", src.Key(), "email", email)
		return nil, nil
	}
	if dst != nil && dst.AssigneeID() == id {
		return nil, nil
	}
	return &id, nil
}

func empty(f tracker.Fields) bool {
	return f.Summary == "" && f.Description == "" && f.Assignee == nil && f.Parent == "" && f.State == ""
}

func outcome(created, wrote bool) string {
	switch {
	case created:
		return "created"
	case wrote:
		return "updated"
	default:
		return "unchanged"
	}
}
