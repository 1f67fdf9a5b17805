package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// mirrorComments copies src's comments created or edited since the
// checkpoint onto dst. A mirrored comment is found again by its tag and
// edited in place. It returns the number of writes.
func (r *run) mirrorComments(ctx context.Context, src, dst tracker.Entity, from, to Tracker) (int, error) {
	if src.Kind() != tracker.KindIssue {
		return 0, nil
	}
	cs, err := src.CommentsSince(ctx, r.committed)
	if err != nil {
		return 0, fmt.Errorf("listing comments: %w", err)
	}
	self, err := from.SelfEmail(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolving own account: %w", err)
	}

	var existing []tracker.Comment
	loaded := false
	n := 0
	for _, c := range cs {
		if tracker.HasCommentTag(c.Body) || r.isAutomation(c.AuthorEmail) {
			continue
		}
		if self != "" && strings.EqualFold(c.AuthorEmail, self) {
			continue
		}
		if !loaded {
			if existing, err = to.Comments(ctx, dst); err != nil {
				return n, fmt.Errorf("listing counterpart comments: %w", err)
			}
			loaded = true
		}

		tag := tracker.CommentTag(src.System(), c.ID)
		body := commentBody(src.System(), c, tag)
		mirror := findComment(existing, tag)
		switch {
		case mirror == nil:
			if err := to.CreateComment(ctx, dst, body); err != nil {
				return n, fmt.Errorf("mirroring comment %s: %w", c.ID, err)
			}
			n++
		case !tracker.SameText(mirror.Body, body):
			if err := to.UpdateComment(ctx, dst, mirror.ID, body); err != nil {
				return n, fmt.Errorf("updating mirrored comment %s: %w", c.ID, err)
			}
			n++
		}
	}
	return n, nil
}

func findComment(cs []tracker.Comment, tag string) *tracker.Comment {
	for i := range cs {
		if tracker.ContainsTag(cs[i].Body, tag) {
			return &cs[i]
		}
	}
	return nil
}

func commentBody(origin tracker.System, c tracker.Comment, tag string) string {
	where := "Linear"
	if origin == tracker.Jira {
		where = "Jira"
	}
	author := c.Author
	if author == "" {
		author = "Someone"
	}
	return fmt.Sprintf("**%s** commented in %s:\n\n%s\n\n%s", author, where, strings.TrimSpace(c.Body), tag)
}
