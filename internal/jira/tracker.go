package jira

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/paginate"
	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// Converter translates between ADF and markdown.
type Converter interface {
	ToMarkdown(doc *ADFNode) string
	FromMarkdown(md string) *ADFNode
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Project string
	// Location is the zone JQL date literals are read in. Defaults to UTC.
	Location *time.Location
	// EpicType and IssueType name the issue types entities are created
	// with. Default "Epic" and "Task".
	EpicType  string
	IssueType string
}

// Tracker adapts a Client to the entity-level operations of the sync
// engine, scoped to one project.
type Tracker struct {
	client    *Client
	conv      Converter
	project   string
	loc       *time.Location
	epicType  string
	issueType string

	mu    sync.Mutex
	users map[string]string // lower email -> accountId, "" for unknown
	self  string

	linksMu   sync.Mutex
	backLinks map[string]string // remote link globalId -> issue key
}

// NewTracker returns a project-scoped tracker.
func NewTracker(client *Client, conv Converter, opts TrackerOptions) *Tracker {
	t := &Tracker{
		client:    client,
		conv:      conv,
		project:   opts.Project,
		loc:       opts.Location,
		epicType:  opts.EpicType,
		issueType: opts.IssueType,
		users:     make(map[string]string),
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	if t.epicType == "" {
		t.epicType = "Epic"
	}
	if t.issueType == "" {
		t.issueType = "Task"
	}
	return t
}

func (t *Tracker) System() tracker.System { return tracker.Jira }

func (t *Tracker) entity(issue *Issue) tracker.Entity {
	b := base{t: t, issue: issue}
	if strings.EqualFold(issue.Fields.IssueType.Name, t.epicType) {
		return epicEntity{b}
	}
	return issueEntity{b}
}

func (t *Tracker) kindClause(kind tracker.Kind) string {
	if kind == tracker.KindEpic {
		return fmt.Sprintf("issuetype = %s", quoteJQL(t.epicType))
	}
	return fmt.Sprintf("issuetype != %s", quoteJQL(t.epicType))
}

// Updated lists entities updated at or after since. JQL compares at minute
// precision in the user's zone, so the bound is floored and refined here.
func (t *Tracker) Updated(ctx context.Context, kind tracker.Kind, since time.Time) ([]tracker.Entity, error) {
	jql := fmt.Sprintf("project = %s AND %s", quoteJQL(t.project), t.kindClause(kind))
	if !since.IsZero() {
		floor := since.In(t.loc).Truncate(time.Minute)
		jql += fmt.Sprintf(" AND updated >= %s", quoteJQL(floor.Format("2006-01-02 15:04")))
	}
	jql += " ORDER BY updated ASC"

	issues, err := t.search(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("searching updated %ss: %w", kind, err)
	}
	var out []tracker.Entity
	for i := range issues {
		e := t.entity(&issues[i])
		if e.Kind() != kind || e.UpdatedAt().Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FindByTag finds the entity whose description carries tag. The text search
// is fuzzy, so matches are confirmed against the rendered description.
func (t *Tracker) FindByTag(ctx context.Context, kind tracker.Kind, tag string) (tracker.Entity, error) {
	jql := fmt.Sprintf("project = %s AND %s AND description ~ %s",
		quoteJQL(t.project), t.kindClause(kind), quoteJQL(`"`+tag+`"`))
	issues, err := t.search(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("searching for tag %s: %w", tag, err)
	}
	for i := range issues {
		e := t.entity(&issues[i])
		if e.Kind() == kind && tracker.ContainsTag(e.Description(), tag) {
			return e, nil
		}
	}
	return nil, nil
}

// FindByBackLink finds the entity with a remote link whose globalId is url.
// JQL cannot match remote links without an add-on, so the project's links
// are read once into an index that CreateLink keeps current.
func (t *Tracker) FindByBackLink(ctx context.Context, kind tracker.Kind, url string) (tracker.Entity, error) {
	key, err := t.backLinkKey(ctx, url)
	if err != nil || key == "" {
		return nil, err
	}
	e, err := t.Lookup(ctx, kind, tracker.Pointer{Key: key})
	if err != nil || e == nil || e.Kind() != kind {
		return nil, err
	}
	return e, nil
}

func (t *Tracker) backLinkKey(ctx context.Context, url string) (string, error) {
	t.linksMu.Lock()
	defer t.linksMu.Unlock()
	if t.backLinks == nil {
		idx, err := t.indexBackLinks(ctx)
		if err != nil {
			return "", err
		}
		t.backLinks = idx
	}
	return t.backLinks[url], nil
}

// indexBackLinks maps the globalId of every remote link in the project to
// the key of the issue carrying it.
func (t *Tracker) indexBackLinks(ctx context.Context) (map[string]string, error) {
	jql := fmt.Sprintf("project = %s ORDER BY key ASC", quoteJQL(t.project))
	issues, err := t.search(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("listing issues for back-links: %w", err)
	}
	idx := make(map[string]string)
	for _, issue := range issues {
		links, err := t.client.GetRemoteLinks(ctx, issue.Key)
		if err != nil {
			return nil, fmt.Errorf("listing remote links of %s: %w", issue.Key, err)
		}
		for _, l := range links {
			id := l.GlobalID
			if id == "" {
				id = l.Object.URL
			}
			if _, seen := idx[id]; id != "" && !seen {
				idx[id] = issue.Key
			}
		}
	}
	return idx, nil
}

// noteBackLink records a link created after the index was built.
func (t *Tracker) noteBackLink(url, key string) {
	t.linksMu.Lock()
	defer t.linksMu.Unlock()
	if t.backLinks != nil {
		if _, seen := t.backLinks[url]; !seen {
			t.backLinks[url] = key
		}
	}
}

// Lookup fetches the issue a Linear-side pointer names.
func (t *Tracker) Lookup(ctx context.Context, kind tracker.Kind, p tracker.Pointer) (tracker.Entity, error) {
	ref := p.Key
	if ref == "" {
		ref = p.ID
	}
	if ref == "" {
		return nil, nil
	}
	issue, err := t.client.GetIssue(ctx, ref)
	if err != nil {
		if NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	return t.entity(issue), nil
}

// Create creates an issue or epic. A rejected reporter is dropped and the
// create retried, since setting it needs a permission the API user may lack.
func (t *Tracker) Create(ctx context.Context, kind tracker.Kind, f tracker.Fields) (tracker.Entity, error) {
	typeName := t.issueType
	if kind == tracker.KindEpic {
		typeName = t.epicType
	}
	fields := map[string]any{
		"project":     map[string]string{"key": t.project},
		"issuetype":   map[string]string{"name": typeName},
		"summary":     f.Summary,
		"description": t.conv.FromMarkdown(f.Description),
	}
	if f.Assignee != nil && *f.Assignee != "" {
		fields["assignee"] = map[string]string{"accountId": *f.Assignee}
	}
	if f.Parent != "" && kind == tracker.KindIssue {
		fields["parent"] = map[string]string{"key": f.Parent}
	}
	withReporter := f.Reporter != nil && *f.Reporter != ""
	if withReporter {
		fields["reporter"] = map[string]string{"accountId": *f.Reporter}
	}

	created, err := t.client.CreateIssue(ctx, CreatePayload{Fields: fields})
	if err != nil && withReporter && isFieldError(err, "reporter") {
		delete(fields, "reporter")
		created, err = t.client.CreateIssue(ctx, CreatePayload{Fields: fields})
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", kind, err)
	}

	issue, err := t.client.GetIssue(ctx, created.Key)
	if err != nil {
		return nil, fmt.Errorf("fetching created %s: %w", created.Key, err)
	}
	return t.entity(issue), nil
}

// Update pushes the set fields of f. State is not a field in Jira; it moves
// through Transition.
func (t *Tracker) Update(ctx context.Context, e tracker.Entity, f tracker.Fields) error {
	fields := map[string]any{}
	if f.Summary != "" {
		fields["summary"] = f.Summary
	}
	if f.Description != "" {
		fields["description"] = t.conv.FromMarkdown(f.Description)
	}
	if f.Assignee != nil {
		if *f.Assignee == "" {
			fields["assignee"] = nil
		} else {
			fields["assignee"] = map[string]string{"accountId": *f.Assignee}
		}
	}
	if f.Parent != "" {
		fields["parent"] = map[string]string{"key": f.Parent}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := t.client.UpdateIssue(ctx, e.Key(), UpdatePayload{Fields: fields}); err != nil {
		return fmt.Errorf("updating %s: %w", e.Key(), err)
	}
	return nil
}

func (t *Tracker) Comments(ctx context.Context, e tracker.Entity) ([]tracker.Comment, error) {
	return t.comments(ctx, e.Key())
}

func (t *Tracker) comments(ctx context.Context, key string) ([]tracker.Comment, error) {
	raw, err := paginate.All(ctx, func(ctx context.Context, cursor string) (paginate.Page[Comment], error) {
		startAt, err := parseOffset(cursor)
		if err != nil {
			return paginate.Page[Comment]{}, err
		}
		page, err := t.client.GetComments(ctx, key, startAt)
		if err != nil {
			return paginate.Page[Comment]{}, err
		}
		next := page.StartAt + len(page.Comments)
		return paginate.Page[Comment]{
			Items:   page.Comments,
			HasMore: len(page.Comments) > 0 && next < page.Total,
			Cursor:  offsetCursor(next),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing comments of %s: %w", key, err)
	}

	out := make([]tracker.Comment, 0, len(raw))
	for _, c := range raw {
		created, _ := ParseTime(c.Created)
		updated, err := ParseTime(c.Updated)
		if err != nil {
			updated = created
		}
		out = append(out, tracker.Comment{
			ID:          c.ID,
			Author:      c.Author.DisplayName,
			AuthorEmail: c.Author.EmailAddress,
			Body:        t.conv.ToMarkdown(c.Body),
			Created:     created,
			Updated:     updated,
		})
	}
	return out, nil
}

func (t *Tracker) CreateComment(ctx context.Context, e tracker.Entity, body string) error {
	if _, err := t.client.AddComment(ctx, e.Key(), t.conv.FromMarkdown(body)); err != nil {
		return fmt.Errorf("commenting on %s: %w", e.Key(), err)
	}
	return nil
}

func (t *Tracker) UpdateComment(ctx context.Context, e tracker.Entity, commentID, body string) error {
	if err := t.client.UpdateComment(ctx, e.Key(), commentID, t.conv.FromMarkdown(body)); err != nil {
		return fmt.Errorf("updating comment %s on %s: %w", commentID, e.Key(), err)
	}
	return nil
}

// UserID maps an email to an accountId. Misses are cached too.
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

	users, err := t.client.SearchUsers(ctx, email)
	if err != nil {
		return "", fmt.Errorf("searching user %s: %w", email, err)
	}
	for _, u := range users {
		if strings.EqualFold(u.EmailAddress, email) {
			id = u.AccountID
			break
		}
	}
	// Emails are often hidden; a single hit for an exact-email query is the user.
	if id == "" && len(users) == 1 && users[0].EmailAddress == "" {
		id = users[0].AccountID
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
	u, err := t.client.Myself(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching API user: %w", err)
	}
	t.mu.Lock()
	t.self = u.EmailAddress
	t.mu.Unlock()
	return u.EmailAddress, nil
}

func (t *Tracker) Transitions(ctx context.Context, e tracker.Entity) ([]tracker.Transition, error) {
	infos, err := t.client.GetTransitions(ctx, e.Key())
	if err != nil {
		return nil, fmt.Errorf("listing transitions of %s: %w", e.Key(), err)
	}
	out := make([]tracker.Transition, 0, len(infos))
	for _, ti := range infos {
		_, hasResolution := ti.Fields["resolution"]
		out = append(out, tracker.Transition{
			ID:                ti.ID,
			Name:              ti.Name,
			To:                ti.To.Name,
			AcceptsResolution: hasResolution,
		})
	}
	return out, nil
}

func (t *Tracker) Transition(ctx context.Context, e tracker.Entity, tr tracker.Transition, resolution string) error {
	payload := TransitionPayload{Transition: Transition{ID: tr.ID}}
	if resolution != "" && tr.AcceptsResolution {
		payload.Fields = map[string]any{"resolution": map[string]string{"name": resolution}}
	}
	if err := t.client.DoTransition(ctx, e.Key(), payload); err != nil {
		return fmt.Errorf("transitioning %s via %q: %w", e.Key(), tr.Name, err)
	}
	return nil
}

// IssueLinks lists the links of key as directed From→To pairs. A link
// stored with outwardIssue set points away from key.
func (t *Tracker) IssueLinks(ctx context.Context, key string) ([]tracker.IssueLink, error) {
	issue, err := t.client.GetIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching links of %s: %w", key, err)
	}
	var out []tracker.IssueLink
	for _, l := range issue.Fields.IssueLinks {
		switch {
		case l.OutwardIssue != nil:
			out = append(out, tracker.IssueLink{Type: l.Type.Name, From: issue.Key, To: l.OutwardIssue.Key})
		case l.InwardIssue != nil:
			out = append(out, tracker.IssueLink{Type: l.Type.Name, From: l.InwardIssue.Key, To: issue.Key})
		}
	}
	return out, nil
}

// LinkIssues creates link. From is sent as the inward issue so that it
// reads the outward description ("blocks") towards To.
func (t *Tracker) LinkIssues(ctx context.Context, link tracker.IssueLink) error {
	payload := IssueLinkPayload{
		Type:         IssueLinkType{Name: link.Type},
		OutwardIssue: LinkedIssue{Key: link.To},
		InwardIssue:  LinkedIssue{Key: link.From},
	}
	if err := t.client.CreateIssueLink(ctx, payload); err != nil {
		return fmt.Errorf("linking %s %s %s: %w", link.From, link.Type, link.To, err)
	}
	return nil
}

func (t *Tracker) search(ctx context.Context, jql string) ([]Issue, error) {
	return paginate.All(ctx, func(ctx context.Context, cursor string) (paginate.Page[Issue], error) {
		resp, err := t.client.Search(ctx, jql, cursor)
		if err != nil {
			return paginate.Page[Issue]{}, err
		}
		return paginate.Page[Issue]{
			Items:   resp.Issues,
			HasMore: !resp.IsLast,
			Cursor:  resp.NextPageToken,
		}, nil
	})
}

// quoteJQL renders s as a double-quoted JQL string literal.
func quoteJQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func isFieldError(err error, field string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 400 && strings.Contains(apiErr.Body, `"`+field+`"`)
}
