package jira

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// linkTitlePrefix marks the remote link that points back at Linear.
const linkTitlePrefix = "Linear "

// base holds what issues and epics share. Variants embed it and add kind,
// parent derivation.
type base struct {
	t     *Tracker
	issue *Issue
}

func (b base) System() tracker.System { return tracker.Jira }
func (b base) ID() string             { return b.issue.ID }
func (b base) Key() string            { return b.issue.Key }
func (b base) URL() string            { return b.t.client.BrowseURL(b.issue.Key) }
func (b base) Summary() string        { return b.issue.Fields.Summary }

func (b base) Description() string {
	return b.t.conv.ToMarkdown(b.issue.Fields.Description)
}

func (b base) StateName() (string, bool) {
	name := b.issue.Fields.Status.Name
	return name, name != ""
}

func (b base) Resolution() string {
	if r := b.issue.Fields.Resolution; r != nil {
		return r.Name
	}
	return ""
}

func (b base) AssigneeEmail() string {
	if a := b.issue.Fields.Assignee; a != nil {
		return a.EmailAddress
	}
	return ""
}

func (b base) AssigneeID() string {
	if a := b.issue.Fields.Assignee; a != nil {
		return a.AccountID
	}
	return ""
}

func (b base) CreatorEmail() string {
	if r := b.issue.Fields.Reporter; r != nil && r.EmailAddress != "" {
		return r.EmailAddress
	}
	if c := b.issue.Fields.Creator; c != nil {
		return c.EmailAddress
	}
	return ""
}

func (b base) UpdatedAt() time.Time {
	t, err := ParseTime(b.issue.Fields.Updated)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ExternalLink reads the Linear pointer from the issue's remote links.
func (b base) ExternalLink(ctx context.Context) (*tracker.Pointer, error) {
	links, err := b.t.client.GetRemoteLinks(ctx, b.issue.Key)
	if err != nil {
		return nil, fmt.Errorf("listing remote links of %s: %w", b.issue.Key, err)
	}
	for _, l := range links {
		if !strings.HasPrefix(l.Object.Title, linkTitlePrefix) {
			continue
		}
		return &tracker.Pointer{
			System: tracker.Linear,
			ID:     l.Object.Summary,
			Key:    strings.TrimPrefix(l.Object.Title, linkTitlePrefix),
			URL:    l.Object.URL,
		}, nil
	}
	return nil, nil
}

// CreateLink adds the remote link back to Linear unless one exists.
func (b base) CreateLink(ctx context.Context, p tracker.Pointer) error {
	existing, err := b.ExternalLink(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	link := RemoteLink{
		GlobalID:     p.URL,
		Relationship: "mirrors",
		Object: RemoteObject{
			URL:     p.URL,
			Title:   linkTitlePrefix + p.Key,
			Summary: p.ID,
		},
	}
	if err := b.t.client.CreateRemoteLink(ctx, b.issue.Key, link); err != nil {
		return fmt.Errorf("creating remote link on %s: %w", b.issue.Key, err)
	}
	b.t.noteBackLink(p.URL, b.issue.Key)
	return nil
}

func (b base) CommentsSince(ctx context.Context, since time.Time) ([]tracker.Comment, error) {
	all, err := b.t.comments(ctx, b.issue.Key)
	if err != nil {
		return nil, err
	}
	var out []tracker.Comment
	for _, c := range all {
		if c.Created.After(since) || c.Updated.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// issueEntity is a Jira issue that is not an epic.
type issueEntity struct {
	base
}

func (issueEntity) Kind() tracker.Kind { return tracker.KindIssue }

func (e issueEntity) ParentKey() string {
	if p := e.issue.Fields.Parent; p != nil {
		return p.Key
	}
	return ""
}

// ParentExternalKey returns the Linear project id the parent epic mirrors.
func (e issueEntity) ParentExternalKey(ctx context.Context) (string, error) {
	key := e.ParentKey()
	if key == "" {
		return "", nil
	}
	parent, err := e.t.client.GetIssue(ctx, key)
	if err != nil {
		if NotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("fetching parent %s: %w", key, err)
	}
	pe := e.t.entity(parent)
	if pe.Kind() != tracker.KindEpic {
		return "", nil
	}
	p, err := pe.ExternalLink(ctx)
	if err != nil || p == nil {
		return "", err
	}
	return p.ID, nil
}

// epicEntity is a Jira epic, mirrored as a Linear project.
type epicEntity struct {
	base
}

func (epicEntity) Kind() tracker.Kind { return tracker.KindEpic }

func (epicEntity) ParentKey() string { return "" }

func (epicEntity) ParentExternalKey(context.Context) (string, error) { return "", nil }

var (
	_ tracker.Entity = issueEntity{}
	_ tracker.Entity = epicEntity{}
)
