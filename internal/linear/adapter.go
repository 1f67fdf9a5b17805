package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// linkTitlePrefix marks attachments and project links pointing at Jira.
const linkTitlePrefix = "Jira "

// projectStateNames maps project status types onto the issue vocabulary.
var projectStateNames = map[string]string{
	"backlog":   "Backlog",
	"planned":   "Todo",
	"started":   "In Progress",
	"paused":    "In Progress",
	"completed": "Done",
	"canceled":  "Canceled",
}

// issueEntity adapts a Linear issue.
type issueEntity struct {
	t     *Tracker
	issue *Issue
}

func (issueEntity) Kind() tracker.Kind     { return tracker.KindIssue }
func (issueEntity) System() tracker.System { return tracker.Linear }
func (e issueEntity) ID() string           { return e.issue.ID }
func (e issueEntity) Key() string          { return e.issue.Identifier }
func (e issueEntity) URL() string          { return e.issue.URL }
func (e issueEntity) Summary() string      { return e.issue.Title }
func (e issueEntity) Description() string  { return e.issue.Description }
func (issueEntity) Resolution() string     { return "" }
func (e issueEntity) UpdatedAt() time.Time { return e.issue.UpdatedAt }

func (e issueEntity) StateName() (string, bool) {
	s := e.issue.State
	if s == nil {
		return "", false
	}
	return e.t.states.NormalizeLinear(s.Name, s.Type)
}

func (e issueEntity) AssigneeEmail() string { return userEmail(e.issue.Assignee) }
func (e issueEntity) AssigneeID() string    { return userID(e.issue.Assignee) }
func (e issueEntity) CreatorEmail() string  { return userEmail(e.issue.Creator) }

func (e issueEntity) ParentKey() string {
	if e.issue.Project == nil {
		return ""
	}
	return e.issue.Project.ID
}

// ParentExternalKey returns the key of the Jira epic the parent project
// mirrors.
func (e issueEntity) ParentExternalKey(ctx context.Context) (string, error) {
	pid := e.ParentKey()
	if pid == "" {
		return "", nil
	}
	p, err := projectLink(ctx, e.t.client, pid)
	if err != nil || p == nil {
		return "", err
	}
	return p.Key, nil
}

// ExternalLink reads the Jira pointer from the issue's attachments.
func (e issueEntity) ExternalLink(ctx context.Context) (*tracker.Pointer, error) {
	atts, err := e.t.client.Attachments(ctx, e.issue.ID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of %s: %w", e.issue.Identifier, err)
	}
	for _, a := range atts {
		if p := attachmentPointer(a); p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// CreateLink attaches the Jira URL unless a Jira attachment exists.
func (e issueEntity) CreateLink(ctx context.Context, p tracker.Pointer) error {
	existing, err := e.ExternalLink(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	meta := AttachmentMetadata{JiraID: p.ID, JiraKey: p.Key}
	if err := e.t.client.CreateAttachment(ctx, e.issue.ID, p.URL, linkTitlePrefix+p.Key, meta); err != nil {
		return fmt.Errorf("attaching %s to %s: %w", p.Key, e.issue.Identifier, err)
	}
	return nil
}

func (e issueEntity) CommentsSince(ctx context.Context, since time.Time) ([]tracker.Comment, error) {
	all, err := e.t.comments(ctx, e.issue.ID)
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

// projectEntity adapts a Linear project, the counterpart of a Jira epic.
// Projects have no comment surface.
type projectEntity struct {
	t       *Tracker
	project *Project
}

func (projectEntity) Kind() tracker.Kind     { return tracker.KindEpic }
func (projectEntity) System() tracker.System { return tracker.Linear }
func (e projectEntity) ID() string           { return e.project.ID }
func (e projectEntity) Key() string          { return e.project.SlugID }
func (e projectEntity) URL() string          { return e.project.URL }
func (e projectEntity) Summary() string      { return e.project.Name }
func (e projectEntity) Description() string  { return e.project.Content }
func (projectEntity) Resolution() string     { return "" }
func (e projectEntity) UpdatedAt() time.Time { return e.project.UpdatedAt }
func (projectEntity) ParentKey() string      { return "" }

func (e projectEntity) StateName() (string, bool) {
	s := e.project.Status
	if s == nil {
		return "", false
	}
	if name, ok := projectStateNames[strings.ToLower(s.Type)]; ok {
		return e.t.states.Canonical(name)
	}
	return e.t.states.Canonical(s.Name)
}

func (e projectEntity) AssigneeEmail() string { return userEmail(e.project.Lead) }
func (e projectEntity) AssigneeID() string    { return userID(e.project.Lead) }
func (e projectEntity) CreatorEmail() string  { return userEmail(e.project.Creator) }

func (projectEntity) ParentExternalKey(context.Context) (string, error) { return "", nil }

func (e projectEntity) ExternalLink(ctx context.Context) (*tracker.Pointer, error) {
	return projectLink(ctx, e.t.client, e.project.ID)
}

func (e projectEntity) CreateLink(ctx context.Context, p tracker.Pointer) error {
	existing, err := e.ExternalLink(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := e.t.client.CreateProjectLink(ctx, e.project.ID, p.URL, linkTitlePrefix+p.Key); err != nil {
		return fmt.Errorf("linking %s to project %s: %w", p.Key, e.project.Name, err)
	}
	return nil
}

func (projectEntity) CommentsSince(context.Context, time.Time) ([]tracker.Comment, error) {
	return nil, nil
}

func projectLink(ctx context.Context, c *Client, projectID string) (*tracker.Pointer, error) {
	links, err := c.ProjectLinks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing links of project %s: %w", projectID, err)
	}
	for _, l := range links {
		if !strings.HasPrefix(l.Label, linkTitlePrefix) {
			continue
		}
		return &tracker.Pointer{
			System: tracker.Jira,
			Key:    strings.TrimPrefix(l.Label, linkTitlePrefix),
			URL:    l.URL,
		}, nil
	}
	return nil, nil
}

// attachmentPointer decodes a Jira attachment, nil for anything else.
func attachmentPointer(a Attachment) *tracker.Pointer {
	var meta AttachmentMetadata
	if len(a.Metadata) > 0 && json.Unmarshal(a.Metadata, &meta) != nil {
		// Metadata is free-form for hand-made attachments; the title still names the key.
		meta = AttachmentMetadata{}
	}
	if meta.JiraKey == "" {
		if !strings.HasPrefix(a.Title, linkTitlePrefix) {
			return nil
		}
		meta.JiraKey = strings.TrimPrefix(a.Title, linkTitlePrefix)
	}
	return &tracker.Pointer{System: tracker.Jira, ID: meta.JiraID, Key: meta.JiraKey, URL: a.URL}
}

func userEmail(u *User) string {
	if u == nil {
		return ""
	}
	return u.Email
}

func userID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

var (
	_ tracker.Entity = issueEntity{}
	_ tracker.Entity = projectEntity{}
)
