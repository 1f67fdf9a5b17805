package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// pair is an entity and its counterpart in the other tracker.
type pair struct {
	src     tracker.Entity
	dst     tracker.Entity
	created bool
}

type createFunc func(ctx context.Context, src tracker.Entity) (tracker.Entity, error)

// lookupCounterpart finds the entity mirroring src in dst without writing
// anything: the link slot (or a tag of dst embedded in src), then a search
// for src's tag, then a search for a back-link to src.
func (r *run) lookupCounterpart(ctx context.Context, src tracker.Entity, dst Tracker) (tracker.Entity, error) {
	kind := src.Kind()
	keep := func(e tracker.Entity) tracker.Entity {
		if e == nil || e.Kind() != kind {
			return nil
		}
		return e
	}

	p, err := src.ExternalLink(ctx)
	if err != nil {
		return nil, err
	}
	if p != nil {
		found, err := dst.Lookup(ctx, kind, *p)
		if err != nil {
			return nil, err
		}
		if found = keep(found); found != nil {
			return found, nil
		}
		r.log.Warn("link points at a missing entity", "kind", kind.String(), "key", src.Key(), "link", p.URL)
	}

	if id, ok := tracker.FindTag(src.Description(), dst.System()); ok {
		found, err := dst.Lookup(ctx, kind, tracker.Pointer{System: dst.System(), ID: id})
		if err != nil {
			return nil, err
		}
		if found = keep(found); found != nil {
			return found, nil
		}
	}

	found, err := dst.FindByTag(ctx, kind, tracker.Tag(src.System(), src.ID()))
	if err != nil {
		return nil, err
	}
	if found = keep(found); found != nil {
		return found, nil
	}

	found, err = dst.FindByBackLink(ctx, kind, src.URL())
	if err != nil {
		return nil, err
	}
	return keep(found), nil
}

// resolve returns src's counterpart, creating it when no lookup finds one,
// and makes sure both sides carry the link.
func (r *run) resolve(ctx context.Context, src tracker.Entity, dst Tracker, create createFunc) (pair, error) {
	found, err := r.lookupCounterpart(ctx, src, dst)
	if err != nil {
		return pair{}, fmt.Errorf("resolving counterpart: %w", err)
	}
	p := pair{src: src, dst: found}
	if found == nil {
		if p.dst, err = create(ctx, src); err != nil {
			return pair{}, err
		}
		p.created = true
	}

	if err := src.CreateLink(ctx, tracker.PointerTo(p.dst)); err != nil {
		return pair{}, fmt.Errorf("linking %s to %s: %w", src.Key(), p.dst.Key(), err)
	}
	if err := p.dst.CreateLink(ctx, tracker.PointerTo(src)); err != nil {
		return pair{}, fmt.Errorf("linking %s to %s: %w", p.dst.Key(), src.Key(), err)
	}
	return p, nil
}

// resolveAll resolves entities concurrently. Entities for which accept
// returns false are left out; failures are collected into the result.
func (r *run) resolveAll(ctx context.Context, phase string, ents []tracker.Entity, dst Tracker, create createFunc, accept func(context.Context, tracker.Entity) (bool, error)) []pair {
	var (
		mu    sync.Mutex
		pairs []pair
	)
	errs := each(ctx, r.concurrency, ents, func(ctx context.Context, ent tracker.Entity) error {
		if accept != nil {
			ok, err := accept(ctx, ent)
			if err != nil {
				return r.fail(phase, ent.Kind(), ent.Key(), ent.URL(), err)
			}
			if !ok {
				return nil
			}
		}
		p, err := r.resolve(ctx, ent, dst, create)
		if err != nil {
			return r.fail(phase, ent.Kind(), ent.Key(), ent.URL(), err)
		}
		mu.Lock()
		pairs = append(pairs, p)
		mu.Unlock()
		return nil
	})
	r.collect(phase, errs)
	return pairs
}
