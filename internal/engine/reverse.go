package engine

import (
	"context"
	"fmt"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

const phaseReverse = "reverse"

// reverse pulls Jira epics and issues updated within [committed,
// attemptStart) into Linear. Entities mirrored from Linear are resolved
// through their tag and never re-created.
func (r *run) reverse(ctx context.Context) error {
	var ents [2][]tracker.Entity
	for i, kind := range []tracker.Kind{tracker.KindEpic, tracker.KindIssue} {
		list, err := r.b.Updated(ctx, kind, r.committed)
		if err != nil {
			return fmt.Errorf("fetching updated Jira %ss: %w", kind, err)
		}
		for _, e := range list {
			if !e.UpdatedAt().Before(r.attemptStart) {
				r.res.count("deferred")
				r.log.Info("updated during this attempt; deferred", "phase", phaseReverse, "kind", kind.String(), "key", e.Key(), "updated", e.UpdatedAt())
				continue
			}
			ents[i] = append(ents[i], e)
		}
	}

	pairs := r.resolveAll(ctx, phaseReverse, ents[0], r.a, r.createInLinear, r.mappableWorkflow)
	pairs = append(pairs, r.resolveAll(ctx, phaseReverse, ents[1], r.a, r.createInLinear, r.mappableWorkflow)...)

	errs := each(ctx, r.concurrency, pairs, func(ctx context.Context, p pair) error {
		if err := r.pullReverse(ctx, p); err != nil {
			return r.fail(phaseReverse, p.src.Kind(), p.src.Key(), p.src.URL(), err)
		}
		return nil
	})
	r.collect(phaseReverse, errs)
	return nil
}

// mappableWorkflow reports whether the entity's current status and every
// status its transitions lead to have a Linear state.
func (r *run) mappableWorkflow(ctx context.Context, e tracker.Entity) (bool, error) {
	status, _ := e.StateName()
	if !r.states.KnowsStatus(status) {
		r.skip(e, "status has no Linear state", "status", status)
		return false, nil
	}
	ts, err := r.b.Transitions(ctx, e)
	if err != nil {
		return false, fmt.Errorf("listing transitions: %w", err)
	}
	for _, t := range ts {
		if !r.states.KnowsStatus(t.To) {
			r.skip(e, "workflow leads to a status with no Linear state", "transition", t.Name, "status", t.To)
			return false, nil
		}
	}
	return true, nil
}

func (r *run) skip(e tracker.Entity, reason string, attrs ...any) {
	r.res.count("skipped")
	args := append([]any{"phase", phaseReverse, "kind", e.Kind().String(), "key", e.Key(), "reason", reason}, attrs...)
	r.log.Warn("entity skipped", args...)
}

func (r *run) createInLinear(ctx context.Context, src tracker.Entity) (tracker.Entity, error) {
	f, err := r.reverseFields(ctx, src, nil)
	if err != nil {
		return nil, err
	}
	e, err := r.a.Create(ctx, src.Kind(), f)
	if err != nil {
		return nil, err
	}
	r.log.Info("created in Linear", "kind", src.Kind().String(), "key", src.Key(), "counterpart", e.Key())
	return e, nil
}

// reverseFields computes what Linear needs to mirror src, leaving fields
// already equal on dst unset.
func (r *run) reverseFields(ctx context.Context, src, dst tracker.Entity) (tracker.Fields, error) {
	var f tracker.Fields

	if dst == nil || dst.Summary() != src.Summary() {
		f.Summary = src.Summary()
	}

	want := tracker.StripTags(src.Description())
	_, fromLinear := tracker.FindTag(src.Description(), tracker.Linear)
	tag := tracker.Tag(tracker.Jira, src.ID())
	if !fromLinear {
		want = tracker.AppendTag(want, tag)
	}
	if dst == nil || !tracker.SameText(dst.Description(), want) || (!fromLinear && !tracker.ContainsTag(dst.Description(), tag)) {
		f.Description = want
	}

	assignee, err := r.assigneeField(ctx, src, r.a, dst)
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

	status, _ := src.StateName()
	if state, ok := r.states.ToLinear(status, src.Resolution()); ok {
		var current string
		if dst != nil {
			current, _ = dst.StateName()
		}
		if dst == nil || !r.states.Equivalent(current, status, src.Resolution()) {
			f.State = state
		}
	}
	return f, nil
}

// pullReverse converges one Linear entity toward its Jira counterpart. A
// Linear side edited more recently than Jira wins, unless its description
// still ends with the Jira tag this engine wrote.
func (r *run) pullReverse(ctx context.Context, p pair) error {
	src, dst := p.src, p.dst
	wrote := false

	if !p.created {
		f, err := r.reverseFields(ctx, src, dst)
		if err != nil {
			return err
		}
		switch {
		case empty(f):
		case !src.UpdatedAt().Before(dst.UpdatedAt()) || tracker.EndsWithTag(dst.Description(), tracker.Tag(tracker.Jira, src.ID())):
			if err := r.a.Update(ctx, dst, f); err != nil {
				return err
			}
			wrote = true
		default:
			r.done(phaseReverse, src, "kept", "counterpart", dst.Key(), "linear_updated", dst.UpdatedAt(), "jira_updated", src.UpdatedAt())
			return r.pullComments(ctx, p)
		}
	}

	n, err := r.mirrorComments(ctx, src, dst, r.b, r.a)
	if err != nil {
		return err
	}
	r.done(phaseReverse, src, outcome(p.created, wrote || n > 0), "counterpart", dst.Key(), "comments", n)
	return nil
}

func (r *run) pullComments(ctx context.Context, p pair) error {
	_, err := r.mirrorComments(ctx, p.src, p.dst, r.b, r.a)
	return err
}
