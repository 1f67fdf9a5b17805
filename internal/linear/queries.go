package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const pageSize = 100

const issueFields = `
	id identifier title description url updatedAt
	state { id name type }
	assignee { id name email }
	creator { id name email }
	project { id name }
	team { id key }`

const projectFields = `
	id name slugId content url updatedAt
	status { id name type }
	lead { id name email }
	creator { id name email }`

const issuesQuery = `query Issues($filter: IssueFilter, $after: String, $first: Int) {
	issues(filter: $filter, after: $after, first: $first) {
		nodes {` + issueFields + ` }
		pageInfo { hasNextPage endCursor }
	}
}`

const issueQuery = `query Issue($id: String!) {
	issue(id: $id) {` + issueFields + ` }
}`

const projectsQuery = `query Projects($filter: ProjectFilter, $after: String, $first: Int) {
	projects(filter: $filter, after: $after, first: $first) {
		nodes {` + projectFields + ` }
		pageInfo { hasNextPage endCursor }
	}
}`

const projectQuery = `query Project($id: String!) {
	project(id: $id) {` + projectFields + ` }
}`

const relationsQuery = `query Relations($filter: IssueFilter, $after: String, $first: Int) {
	issues(filter: $filter, after: $after, first: $first) {
		nodes {
			relations(first: 50) {
				nodes {
					id type updatedAt
					issue { id identifier team { id key } }
					relatedIssue { id identifier team { id key } }
				}
			}
		}
		pageInfo { hasNextPage endCursor }
	}
}`

const commentsQuery = `query Comments($id: String!, $after: String, $first: Int) {
	issue(id: $id) {
		comments(after: $after, first: $first) {
			nodes { id body createdAt updatedAt user { id name email } }
			pageInfo { hasNextPage endCursor }
		}
	}
}`

const attachmentsQuery = `query Attachments($id: String!) {
	issue(id: $id) {
		attachments(first: 50) { nodes { id url title metadata } }
	}
}`

const attachmentsForURLQuery = `query AttachmentsForURL($url: String!) {
	attachmentsForURL(url: $url) {
		nodes { id url title metadata issue {` + issueFields + ` } }
	}
}`

const projectLinksQuery = `query ProjectLinks($id: String!) {
	project(id: $id) {
		links(first: 50) { nodes { id url label } }
	}
}`

const teamQuery = `query Team($key: String!) {
	teams(filter: { key: { eq: $key } }) {
		nodes {
			id key name
			states { nodes { id name type position } }
		}
	}
}`

const projectStatusesQuery = `query ProjectStatuses {
	projectStatuses { nodes { id name type } }
}`

const usersQuery = `query Users($email: String!) {
	users(filter: { email: { eqIgnoreCase: $email } }) {
		nodes { id name email }
	}
}`

const viewerQuery = `query Viewer { viewer { id name email } }`

const issueCreateMutation = `mutation IssueCreate($input: IssueCreateInput!) {
	issueCreate(input: $input) { success issue {` + issueFields + ` } }
}`

const issueUpdateMutation = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) { success issue {` + issueFields + ` } }
}`

const projectCreateMutation = `mutation ProjectCreate($input: ProjectCreateInput!) {
	projectCreate(input: $input) { success project {` + projectFields + ` } }
}`

const projectUpdateMutation = `mutation ProjectUpdate($id: String!, $input: ProjectUpdateInput!) {
	projectUpdate(id: $id, input: $input) { success project {` + projectFields + ` } }
}`

const commentCreateMutation = `mutation CommentCreate($input: CommentCreateInput!) {
	commentCreate(input: $input) { success comment { id body createdAt updatedAt } }
}`

const commentUpdateMutation = `mutation CommentUpdate($id: String!, $input: CommentUpdateInput!) {
	commentUpdate(id: $id, input: $input) { success }
}`

const attachmentCreateMutation = `mutation AttachmentCreate($input: AttachmentCreateInput!) {
	attachmentCreate(input: $input) { success }
}`

const projectLinkCreateMutation = `mutation ProjectLinkCreate($input: ProjectLinkCreateInput!) {
	projectLinkCreate(input: $input) { success }
}`

func pageVars(filter map[string]any, after string) map[string]any {
	vars := map[string]any{"first": pageSize}
	if filter != nil {
		vars["filter"] = filter
	}
	if after != "" {
		vars["after"] = after
	}
	return vars
}

// Issues fetches one page of issues matching filter.
func (c *Client) Issues(ctx context.Context, filter map[string]any, after string) (*Connection[Issue], error) {
	var out struct {
		Issues Connection[Issue] `json:"issues"`
	}
	if err := c.do(ctx, "issues", issuesQuery, pageVars(filter, after), &out); err != nil {
		return nil, err
	}
	return &out.Issues, nil
}

// Issue fetches an issue by id or identifier.
func (c *Client) Issue(ctx context.Context, id string) (*Issue, error) {
	var out struct {
		Issue *Issue `json:"issue"`
	}
	if err := c.do(ctx, "issue", issueQuery, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.Issue == nil {
		return nil, &APIError{Operation: "issue", Errors: []GraphQLError{{Message: "Entity not found"}}}
	}
	return out.Issue, nil
}

// Projects fetches one page of projects matching filter.
func (c *Client) Projects(ctx context.Context, filter map[string]any, after string) (*Connection[Project], error) {
	var out struct {
		Projects Connection[Project] `json:"projects"`
	}
	if err := c.do(ctx, "projects", projectsQuery, pageVars(filter, after), &out); err != nil {
		return nil, err
	}
	return &out.Projects, nil
}

// Project fetches a project by id or slug.
func (c *Client) Project(ctx context.Context, id string) (*Project, error) {
	var out struct {
		Project *Project `json:"project"`
	}
	if err := c.do(ctx, "project", projectQuery, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.Project == nil {
		return nil, &APIError{Operation: "project", Errors: []GraphQLError{{Message: "Entity not found"}}}
	}
	return out.Project, nil
}

// Relations fetches the relations of one page of issues matching filter.
// The page cursor walks issues, not relations.
func (c *Client) Relations(ctx context.Context, filter map[string]any, after string) ([]IssueRelation, PageInfo, error) {
	var out struct {
		Issues Connection[struct {
			Relations Connection[IssueRelation] `json:"relations"`
		}] `json:"issues"`
	}
	if err := c.do(ctx, "relations", relationsQuery, pageVars(filter, after), &out); err != nil {
		return nil, PageInfo{}, err
	}
	var rels []IssueRelation
	for _, n := range out.Issues.Nodes {
		rels = append(rels, n.Relations.Nodes...)
	}
	return rels, out.Issues.PageInfo, nil
}

// Comments fetches one page of comments on an issue.
func (c *Client) Comments(ctx context.Context, issueID, after string) (*Connection[Comment], error) {
	vars := pageVars(nil, after)
	vars["id"] = issueID
	var out struct {
		Issue struct {
			Comments Connection[Comment] `json:"comments"`
		} `json:"issue"`
	}
	if err := c.do(ctx, "comments", commentsQuery, vars, &out); err != nil {
		return nil, err
	}
	return &out.Issue.Comments, nil
}

// Attachments lists the attachments of an issue.
func (c *Client) Attachments(ctx context.Context, issueID string) ([]Attachment, error) {
	var out struct {
		Issue struct {
			Attachments Connection[Attachment] `json:"attachments"`
		} `json:"issue"`
	}
	if err := c.do(ctx, "attachments", attachmentsQuery, map[string]any{"id": issueID}, &out); err != nil {
		return nil, err
	}
	return out.Issue.Attachments.Nodes, nil
}

// AttachmentsForURL lists attachments pointing at url, with their issues.
func (c *Client) AttachmentsForURL(ctx context.Context, url string) ([]Attachment, error) {
	var out struct {
		Attachments Connection[Attachment] `json:"attachmentsForURL"`
	}
	if err := c.do(ctx, "attachmentsForURL", attachmentsForURLQuery, map[string]any{"url": url}, &out); err != nil {
		return nil, err
	}
	return out.Attachments.Nodes, nil
}

// ProjectLinks lists the external links of a project.
func (c *Client) ProjectLinks(ctx context.Context, projectID string) ([]ProjectLink, error) {
	var out struct {
		Project struct {
			Links Connection[ProjectLink] `json:"links"`
		} `json:"project"`
	}
	if err := c.do(ctx, "projectLinks", projectLinksQuery, map[string]any{"id": projectID}, &out); err != nil {
		return nil, err
	}
	return out.Project.Links.Nodes, nil
}

// TeamByKey fetches a team and its workflow states.
func (c *Client) TeamByKey(ctx context.Context, key string) (*Team, error) {
	var out struct {
		Teams Connection[Team] `json:"teams"`
	}
	if err := c.do(ctx, "team", teamQuery, map[string]any{"key": key}, &out); err != nil {
		return nil, err
	}
	for i := range out.Teams.Nodes {
		if strings.EqualFold(out.Teams.Nodes[i].Key, key) {
			return &out.Teams.Nodes[i], nil
		}
	}
	return nil, fmt.Errorf("team %q not found", key)
}

// ProjectStatuses lists the workspace's project statuses.
func (c *Client) ProjectStatuses(ctx context.Context) ([]ProjectStatus, error) {
	var out struct {
		Statuses Connection[ProjectStatus] `json:"projectStatuses"`
	}
	if err := c.do(ctx, "projectStatuses", projectStatusesQuery, nil, &out); err != nil {
		return nil, err
	}
	return out.Statuses.Nodes, nil
}

// UsersByEmail looks up members by email, ignoring case.
func (c *Client) UsersByEmail(ctx context.Context, email string) ([]User, error) {
	var out struct {
		Users Connection[User] `json:"users"`
	}
	if err := c.do(ctx, "users", usersQuery, map[string]any{"email": email}, &out); err != nil {
		return nil, err
	}
	return out.Users.Nodes, nil
}

// Viewer returns the authenticated user.
func (c *Client) Viewer(ctx context.Context) (*User, error) {
	var out struct {
		Viewer User `json:"viewer"`
	}
	if err := c.do(ctx, "viewer", viewerQuery, nil, &out); err != nil {
		return nil, err
	}
	return &out.Viewer, nil
}

type payload[T any] struct {
	Success bool `json:"success"`
	Issue   *T   `json:"issue"`
	Project *T   `json:"project"`
	Comment *T   `json:"comment"`
}

func (p payload[T]) node() *T {
	switch {
	case p.Issue != nil:
		return p.Issue
	case p.Project != nil:
		return p.Project
	default:
		return p.Comment
	}
}

// mutate runs a mutation whose result sits under field and checks success.
func mutate[T any](ctx context.Context, c *Client, field, query string, vars map[string]any) (*T, error) {
	var out map[string]payload[T]
	if err := c.do(ctx, field, query, vars, &out); err != nil {
		return nil, err
	}
	p, ok := out[field]
	if !ok || !p.Success {
		return nil, fmt.Errorf("%s was not successful", field)
	}
	return p.node(), nil
}

// CreateIssue creates an issue from an IssueCreateInput.
func (c *Client) CreateIssue(ctx context.Context, input map[string]any) (*Issue, error) {
	return mutate[Issue](ctx, c, "issueCreate", issueCreateMutation, map[string]any{"input": input})
}

// UpdateIssue applies an IssueUpdateInput. A nil value clears a field.
func (c *Client) UpdateIssue(ctx context.Context, id string, input map[string]any) (*Issue, error) {
	return mutate[Issue](ctx, c, "issueUpdate", issueUpdateMutation, map[string]any{"id": id, "input": input})
}

// CreateProject creates a project from a ProjectCreateInput.
func (c *Client) CreateProject(ctx context.Context, input map[string]any) (*Project, error) {
	return mutate[Project](ctx, c, "projectCreate", projectCreateMutation, map[string]any{"input": input})
}

// UpdateProject applies a ProjectUpdateInput.
func (c *Client) UpdateProject(ctx context.Context, id string, input map[string]any) (*Project, error) {
	return mutate[Project](ctx, c, "projectUpdate", projectUpdateMutation, map[string]any{"id": id, "input": input})
}

// CreateComment adds a markdown comment to an issue.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) (*Comment, error) {
	input := map[string]any{"issueId": issueID, "body": body}
	return mutate[Comment](ctx, c, "commentCreate", commentCreateMutation, map[string]any{"input": input})
}

// UpdateComment replaces a comment body.
func (c *Client) UpdateComment(ctx context.Context, id, body string) error {
	vars := map[string]any{"id": id, "input": map[string]any{"body": body}}
	_, err := mutate[Comment](ctx, c, "commentUpdate", commentUpdateMutation, vars)
	return err
}

// CreateAttachment links an issue to a URL. Linear keys attachments by
// (issue, url), so repeating the call updates the existing one.
func (c *Client) CreateAttachment(ctx context.Context, issueID, url, title string, meta AttachmentMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling attachment metadata: %w", err)
	}
	input := map[string]any{
		"issueId":  issueID,
		"url":      url,
		"title":    title,
		"metadata": json.RawMessage(raw),
	}
	_, err = mutate[Attachment](ctx, c, "attachmentCreate", attachmentCreateMutation, map[string]any{"input": input})
	return err
}

// CreateProjectLink adds an external link to a project.
func (c *Client) CreateProjectLink(ctx context.Context, projectID, url, label string) error {
	input := map[string]any{"projectId": projectID, "url": url, "label": label}
	_, err := mutate[ProjectLink](ctx, c, "projectLinkCreate", projectLinkCreateMutation, map[string]any{"input": input})
	return err
}
