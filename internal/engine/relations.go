package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

const phaseRelations = "relations"

// defaultRelationTypes maps Linear relation types to Jira link type names.
// Types not listed are used verbatim.
var defaultRelationTypes = map[string]string{
	"related":   "Relates",
	"blocks":    "Blocks",
	"duplicate": "Duplicate",
	"similar":   "Relates",
}

// relations mirrors Linear issue relations within the configured team as
// Jira issue links.
func (r *run) relations(ctx context.Context) error {
	rels, err := r.a.Relations(ctx, r.committed)
	if err != nil {
		return fmt.Errorf("fetching Linear relations: %w", err)
	}
	team := r.a.Team()
	var scoped []tracker.Relation
	for _, rel := range rels {
		if !strings.EqualFold(rel.FromTeam, team) || !strings.EqualFold(rel.ToTeam, team) {
			r.log.Debug("relation leaves the team; skipped", "relation", rel.ID, "from_team", rel.FromTeam, "to_team", rel.ToTeam)
			continue
		}
		scoped = append(scoped, rel)
	}

	errs := each(ctx, r.concurrency, scoped, func(ctx context.Context, rel tracker.Relation) error {
		if err := r.syncRelation(ctx, rel); err != nil {
			return r.fail(phaseRelations, tracker.KindIssue, rel.ID, "", err)
		}
		return nil
	})
	r.collect(phaseRelations, errs)
	return nil
}

func (r *run) linkType(relType string) string {
	if t, ok := r.relationTypes[strings.ToLower(relType)]; ok {
		return t
	}
	return relType
}

func (r *run) syncRelation(ctx context.Context, rel tracker.Relation) error {
	from, err := r.jiraKeyFor(ctx, rel.FromID)
	if err != nil {
		return err
	}
	to, err := r.jiraKeyFor(ctx, rel.ToID)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		r.res.count("skipped")
		r.log.Info("relation endpoint not mirrored yet; skipped", "relation", rel.ID, "from", rel.FromID, "to", rel.ToID)
		return nil
	}

	want := tracker.IssueLink{Type: r.linkType(rel.Type), From: from, To: to}
	links, err := r.b.IssueLinks(ctx, from)
	if err != nil {
		return fmt.Errorf("listing links of %s: %w", from, err)
	}
	for _, l := range links {
		if !strings.EqualFold(l.Type, want.Type) {
			continue
		}
		if (l.From == from && l.To == to) || (strings.EqualFold(want.Type, "Relates") && l.From == to && l.To == from) {
			r.res.count("unchanged")
			return nil
		}
	}
	if err := r.b.LinkIssues(ctx, want); err != nil {
		return err
	}
	r.res.count("linked")
	r.log.Info("relation mirrored", "relation", rel.ID, "type", want.Type, "from", from, "to", to)
	return nil
}

// jiraKeyFor returns the Jira key mirroring the Linear issue id, "" when it
// has no counterpart.
func (r *run) jiraKeyFor(ctx context.Context, id string) (string, error) {
	ent, err := r.a.Lookup(ctx, tracker.KindIssue, tracker.Pointer{System: tracker.Linear, ID: id})
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", id, err)
	}
	if ent == nil {
		return "", nil
	}
	dst, err := r.lookupCounterpart(ctx, ent, r.b)
	if err != nil || dst == nil {
		return "", err
	}
	return dst.Key(), nil
}
