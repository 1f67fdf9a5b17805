package linear

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/paginate"
	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// Tracker adapts a Client to the entity-level operations of the sync
// engine, scoped to one team.
type Tracker struct {
	client *Client
	team   string
	states *tracker.StateMap

	mu              sync.Mutex
	teamInfo        *Team
	projectStatuses []ProjectStatus
	users           map[string]string // lower email -> user id, "" for unknown
	self            string
}

// NewTracker returns a tracker scoped to the team with key team. States
// normalizes workflow state names; nil means the default mapping.
func NewTracker(client *Client, team string, states *tracker.StateMap) *Tracker {
	if states == nil {
		states = tracker.DefaultStateMap()
	}
	return &Tracker{
		client: client,
		team:   team,
		states: states,
		users:  make(map[string]string),
	}
}

func (t *Tracker) System() tracker.System { return tracker.Linear }

// Team returns the configured team key.
func (t *Tracker) Team() string { return t.team }

func (t *Tracker) issue(i *Issue) tracker.Entity { return issueEntity{t: t, issue: i} }

func (t *Tracker) project(p *Project) tracker.Entity { return projectEntity{t: t, project: p} }

func (t *Tracker) issueFilter(since time.Time) map[string]any {
	f := map[string]any{"team": map[string]any{"key": map[string]any{"eq": t.team}}}
	if !since.IsZero() {
		f["updatedAt"] = map[string]any{"gte": since.UTC().Format(time.RFC3339Nano)}
	}
	return f
}

func (t *Tracker) projectFilter(since time.Time) map[string]any {
	f := map[string]any{"accessibleTeams": map[string]any{
		"some": map[string]any{"key": map[string]any{"eq": t.team}},
	}}
	if !since.IsZero() {
		f["updatedAt"] = map[string]any{"gte": since.UTC().Format(time.RFC3339Nano)}
	}
	return f
}

// walk collects every page of a connection.
func walk[T any](ctx context.Context, fetch func(ctx context.Context, after string) (*Connection[T], error)) ([]T, error) {
	return paginate.All(ctx, func(ctx context.Context, cursor string) (paginate.Page[T], error) {
		conn, err := fetch(ctx, cursor)
		if err != nil {
			return paginate.Page[T]{}, err
		}
		return paginate.Page[T]{
			Items:   conn.Nodes,
			HasMore: conn.PageInfo.HasNextPage,
			Cursor:  conn.PageInfo.EndCursor,
		}, nil
	})
}

func (t *Tracker) issues(ctx context.Context, filter map[string]any) ([]Issue, error) {
	return walk(ctx, func(ctx context.Context, after string) (*Connection[Issue], error) {
		return t.client.Issues(ctx, filter, after)
	})
}

func (t *Tracker) projects(ctx context.Context, filter map[string]any) ([]Project, error) {
	return walk(ctx, func(ctx context.Context, after string) (*Connection[Project], error) {
		return t.client.Projects(ctx, filter, after)
	})
}

// Updated lists the team's issues or projects updated at or after since,
// oldest first.
func (t *Tracker) Updated(ctx context.Context, kind tracker.Kind, since time.Time) ([]tracker.Entity, error) {
	var out []tracker.Entity
	switch kind {
	case tracker.KindEpic:
		ps, err := t.projects(ctx, t.projectFilter(since))
		if err != nil {
			return nil, fmt.Errorf("listing updated projects: %w", err)
		}
		for i := range ps {
			if !ps[i].UpdatedAt.Before(since) {
				out = append(out, t.project(&ps[i]))
			}
		}
	default:
		is, err := t.issues(ctx, t.issueFilter(since))
		if err != nil {
			return nil, fmt.Errorf("listing updated issues: %w", err)
		}
		for i := range is {
			if !is[i].UpdatedAt.Before(since) {
				out = append(out, t.issue(&is[i]))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt().Before(out[j].UpdatedAt())
	})
	return out, nil
}

// FindByTag finds the issue or project whose description carries tag.
func (t *Tracker) FindByTag(ctx context.Context, kind tracker.Kind, tag string) (tracker.Entity, error) {
	if kind == tracker.KindEpic {
		ps, err := t.projects(ctx, t.projectFilter(time.Time{}))
		if err != nil {
			return nil, fmt.Errorf("searching projects for tag %s: %w", tag, err)
		}
		for i := range ps {
			if tracker.ContainsTag(ps[i].Content, tag) {
				return t.project(&ps[i]), nil
			}
		}
		return nil, nil
	}

	filter := t.issueFilter(time.Time{})
	filter["description"] = map[string]any{"contains": tag}
	is, err := t.issues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("searching issues for tag %s: %w", tag, err)
	}
	for i := range is {
		if tracker.ContainsTag(is[i].Description, tag) {
			return t.issue(&is[i]), nil
		}
	}
	return nil, nil
}

// FindByBackLink finds the issue with an attachment to url, or the project
// with a link to it.
func (t *Tracker) FindByBackLink(ctx context.Context, kind tracker.Kind, url string) (tracker.Entity, error) {
	if kind == tracker.KindEpic {
		ps, err := t.projects(ctx, t.projectFilter(time.Time{}))
		if err != nil {
			return nil, fmt.Errorf("searching projects for link %s: %w", url, err)
		}
		for i := range ps {
			p, err := projectLink(ctx, t.client, ps[i].ID)
			if err != nil {
				return nil, err
			}
			if p != nil && p.URL == url {
				return t.project(&ps[i]), nil
			}
		}
		return nil, nil
	}

	atts, err := t.client.AttachmentsForURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("searching attachments for %s: %w", url, err)
	}
	for _, a := range atts {
		if a.Issue != nil && strings.EqualFold(a.Issue.Team.Key, t.team) && attachmentPointer(a) != nil {
			return t.issue(a.Issue), nil
		}
	}
	return nil, nil
}

// Lookup fetches the issue or project a Jira-side pointer names.
func (t *Tracker) Lookup(ctx context.Context, kind tracker.Kind, p tracker.Pointer) (tracker.Entity, error) {
	ref := p.Ref()
	if ref == "" {
		return nil, nil
	}
	if kind == tracker.KindEpic {
		proj, err := t.client.Project(ctx, ref)
		if err != nil {
			if NotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("fetching project %s: %w", ref, err)
		}
		return t.project(proj), nil
	}
	issue, err := t.client.Issue(ctx, ref)
	if err != nil {
		if NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching issue %s: %w", ref, err)
	}
	return t.issue(issue), nil
}

// Create creates an issue or project in the team.
func (t *Tracker) Create(ctx context.Context, kind tracker.Kind, f tracker.Fields) (tracker.Entity, error) {
	team, err := t.teamDetails(ctx)
	if err != nil {
		return nil, err
	}

	if kind == tracker.KindEpic {
		input := map[string]any{
			"teamIds": []string{team.ID},
			"name":    f.Summary,
			"content": f.Description,
		}
		if f.Assignee != nil && *f.Assignee != "" {
			input["leadId"] = *f.Assignee
		}
		if f.State != "" {
			statusID, err := t.projectStatusID(ctx, f.State)
			if err != nil {
				return nil, err
			}
			if statusID != "" {
				input["statusId"] = statusID
			}
		}
		p, err := t.client.CreateProject(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("creating project: %w", err)
		}
		return t.project(p), nil
	}

	input := map[string]any{
		"teamId":      team.ID,
		"title":       f.Summary,
		"description": f.Description,
	}
	if f.Assignee != nil && *f.Assignee != "" {
		input["assigneeId"] = *f.Assignee
	}
	if f.Parent != "" {
		input["projectId"] = f.Parent
	}
	if f.State != "" {
		if stateID := t.stateID(team, f.State); stateID != "" {
			input["stateId"] = stateID
		}
	}
	issue, err := t.client.CreateIssue(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	return t.issue(issue), nil
}

// Update pushes the set fields of f. State is a normalized state name.
func (t *Tracker) Update(ctx context.Context, e tracker.Entity, f tracker.Fields) error {
	input := map[string]any{}

	if e.Kind() == tracker.KindEpic {
		if f.Summary != "" {
			input["name"] = f.Summary
		}
		if f.Description != "" {
			input["content"] = f.Description
		}
		if f.Assignee != nil {
			input["leadId"] = nullable(*f.Assignee)
		}
		if f.State != "" {
			statusID, err := t.projectStatusID(ctx, f.State)
			if err != nil {
				return err
			}
			if statusID != "" {
				input["statusId"] = statusID
			}
		}
		if len(input) == 0 {
			return nil
		}
		if _, err := t.client.UpdateProject(ctx, e.ID(), input); err != nil {
			return fmt.Errorf("updating project %s: %w", e.Key(), err)
		}
		return nil
	}

	if f.Summary != "" {
		input["title"] = f.Summary
	}
	if f.Description != "" {
		input["description"] = f.Description
	}
	if f.Assignee != nil {
		input["assigneeId"] = nullable(*f.Assignee)
	}
	if f.Parent != "" {
		input["projectId"] = f.Parent
	}
	if f.State != "" {
		team, err := t.teamDetails(ctx)
		if err != nil {
			return err
		}
		if stateID := t.stateID(team, f.State); stateID != "" {
			input["stateId"] = stateID
		}
	}
	if len(input) == 0 {
		return nil
	}
	if _, err := t.client.UpdateIssue(ctx, e.ID(), input); err != nil {
		return fmt.Errorf("updating %s: %w", e.Key(), err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Comments lists the comments of an issue. Projects have none.
func (t *Tracker) Comments(ctx context.Context, e tracker.Entity) ([]tracker.Comment, error) {
	if e.Kind() == tracker.KindEpic {
		return nil, nil
	}
	return t.comments(ctx, e.ID())
}

func (t *Tracker) comments(ctx context.Context, issueID string) ([]tracker.Comment, error) {
	raw, err := walk(ctx, func(ctx context.Context, after string) (*Connection[Comment], error) {
		return t.client.Comments(ctx, issueID, after)
	})
	if err != nil {
		return nil, fmt.Errorf("listing comments of %s: %w", issueID, err)
	}
	out := make([]tracker.Comment, 0, len(raw))
	for _, c := range raw {
		tc := tracker.Comment{ID: c.ID, Body: c.Body, Created: c.CreatedAt, Updated: c.UpdatedAt}
		if c.User != nil {
			tc.Author, tc.AuthorEmail = c.User.Name, c.User.Email
		}
		out = append(out, tc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

var errNoComments = errors.New("projects have no comments")

func (t *Tracker) CreateComment(ctx context.Context, e tracker.Entity, body string) error {
	if e.Kind() == tracker.KindEpic {
		return errNoComments
	}
	if _, err := t.client.CreateComment(ctx, e.ID(), body); err != nil {
		return fmt.Errorf("commenting on %s: %w", e.Key(), err)
	}
	return nil
}

func (t *Tracker) UpdateComment(ctx context.Context, e tracker.Entity, commentID, body string) error {
	if e.Kind() == tracker.KindEpic {
		return errNoComments
	}
	if err := t.client.UpdateComment(ctx, commentID, body); err != nil {
		return fmt.Errorf("updating comment %s on %s: %w", commentID, e.Key(), err)
	}
	return nil
}

// UserID maps an email to a user id. Misses are cached too.
func (t *Tracker) UserID(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", nil
	}
	key := strings.ToLower(email)
	t.mu.Lock()
	id, ok := t.users[key]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	users, err := t.client.UsersByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("looking up user %s: %w", email, err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			id = u.ID
			break
		}
	}

	t.mu.Lock()
	t.users[key] = id
	t.mu.Unlock()
	return id, nil
}

func (t *Tracker) SelfEmail(ctx context.Context) (string, error) {
	t.mu.Lock()
	self := t.self
	t.mu.Unlock()
	if self != "" {
		return self, nil
	}
	u, err := t.client.Viewer(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching viewer: %w", err)
	}
	t.mu.Lock()
	t.self = u.Email
	t.mu.Unlock()
	return u.Email, nil
}

// Relations lists relations on the team's issues updated at or after since.
// A relation shows up on both its ends; each is reported once.
func (t *Tracker) Relations(ctx context.Context, since time.Time) ([]tracker.Relation, error) {
	filter := t.issueFilter(since)
	raw, err := paginate.All(ctx, func(ctx context.Context, cursor string) (paginate.Page[IssueRelation], error) {
		rels, info, err := t.client.Relations(ctx, filter, cursor)
		if err != nil {
			return paginate.Page[IssueRelation]{}, err
		}
		return paginate.Page[IssueRelation]{Items: rels, HasMore: info.HasNextPage, Cursor: info.EndCursor}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing relations: %w", err)
	}

	seen := make(map[string]bool)
	var out []tracker.Relation
	for _, r := range raw {
		if seen[r.ID] || r.UpdatedAt.Before(since) {
			continue
		}
		seen[r.ID] = true
		out = append(out, tracker.Relation{
			ID:        r.ID,
			Type:      r.Type,
			FromID:    r.Issue.ID,
			FromTeam:  r.Issue.Team.Key,
			ToID:      r.RelatedIssue.ID,
			ToTeam:    r.RelatedIssue.Team.Key,
			UpdatedAt: r.UpdatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// teamDetails fetches the team and its workflow states once.
func (t *Tracker) teamDetails(ctx context.Context) (*Team, error) {
	t.mu.Lock()
	cached := t.teamInfo
	t.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	team, err := t.client.TeamByKey(ctx, t.team)
	if err != nil {
		return nil, fmt.Errorf("fetching team %s: %w", t.team, err)
	}
	t.mu.Lock()
	t.teamInfo = team
	t.mu.Unlock()
	return team, nil
}

// stateID picks the workflow state for a normalized name: an exact name
// match first, else the first state of the same type.
func (t *Tracker) stateID(team *Team, name string) string {
	if team.States == nil {
		return ""
	}
	states := append([]WorkflowState(nil), team.States.Nodes...)
	sort.SliceStable(states, func(i, j int) bool { return states[i].Position < states[j].Position })
	for _, s := range states {
		if strings.EqualFold(s.Name, name) {
			return s.ID
		}
	}
	typ := t.states.LinearType(name)
	for _, s := range states {
		if s.Type == typ {
			return s.ID
		}
	}
	return ""
}

// projectStatusTypes maps an issue state type to a project status type.
var projectStatusTypes = map[string]string{
	"triage":    "backlog",
	"backlog":   "backlog",
	"unstarted": "planned",
	"started":   "started",
	"completed": "completed",
	"canceled":  "canceled",
}

func (t *Tracker) projectStatusID(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	statuses := t.projectStatuses
	t.mu.Unlock()
	if statuses == nil {
		var err error
		statuses, err = t.client.ProjectStatuses(ctx)
		if err != nil {
			return "", fmt.Errorf("listing project statuses: %w", err)
		}
		t.mu.Lock()
		t.projectStatuses = statuses
		t.mu.Unlock()
	}

	typ := projectStatusTypes[t.states.LinearType(name)]
	for _, s := range statuses {
		if strings.EqualFold(s.Name, name) {
			return s.ID, nil
		}
	}
	for _, s := range statuses {
		if s.Type == typ {
			return s.ID, nil
		}
	}
	return "", nil
}
