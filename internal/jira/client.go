package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/config"
)

// issueFields is the field list requested for every issue read.
var issueFields = []string{
	"summary", "status", "issuetype", "project", "resolution", "assignee",
	"reporter", "creator", "parent", "description", "issuelinks", "updated", "created",
}

// APIError is a non-2xx response from the JIRA API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("JIRA API returned %d for %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// Temporary reports whether the request may succeed if retried later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NotFound reports whether the error is a 404.
func NotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a JIRA REST API v3 client.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

// NewClient creates a new JIRA client from the given config.
func NewClient(cfg config.JiraConfig) *Client {
	return NewWithBaseURL(cfg.URL, cfg.Email, cfg.Token, &http.Client{Timeout: cfg.Timeout})
}

// NewWithBaseURL creates a client against an explicit base URL. Used by
// tests to point at an httptest server.
func NewWithBaseURL(baseURL, email, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	creds := base64.StdEncoding.EncodeToString([]byte(email + ":" + token))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + creds,
		httpClient: httpClient,
	}
}

// BaseURL returns the site URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// BrowseURL returns the web URL of an issue.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// Search runs one page of an enhanced JQL search.
func (c *Client) Search(ctx context.Context, jql string, pageToken string) (*SearchResponse, error) {
	req := SearchRequest{
		JQL:           jql,
		Fields:        issueFields,
		MaxResults:    100,
		NextPageToken: pageToken,
	}
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search/jql", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetIssue fetches a single issue by key or id.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s?fields=%s", url.PathEscape(key), strings.Join(issueFields, ","))
	var issue Issue
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CreateIssue creates an issue and returns its identifiers.
func (c *Client) CreateIssue(ctx context.Context, payload CreatePayload) (*CreatedIssue, error) {
	var created CreatedIssue
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateIssue updates an issue's fields.
func (c *Client) UpdateIssue(ctx context.Context, key string, payload UpdatePayload) error {
	return c.do(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), payload, nil)
}

// GetTransitions returns available transitions for an issue, including the
// fields of each transition screen.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]TransitionInfo, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions?expand=transitions.fields", url.PathEscape(key))
	var result TransitionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Transitions, nil
}

// DoTransition performs a status transition on an issue.
func (c *Client) DoTransition(ctx context.Context, key string, payload TransitionPayload) error {
	return c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", payload, nil)
}

// GetComments returns one page of comments, oldest first.
func (c *Client) GetComments(ctx context.Context, key string, startAt int) (*CommentsPage, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment?startAt=%d&maxResults=100&orderBy=created", url.PathEscape(key), startAt)
	var page CommentsPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AddComment adds a comment to an issue.
func (c *Client) AddComment(ctx context.Context, key string, body *ADFNode) (*Comment, error) {
	var created Comment
	err := c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/comment", CommentPayload{Body: body}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateComment replaces the body of a comment.
func (c *Client) UpdateComment(ctx context.Context, key, id string, body *ADFNode) error {
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/comment/" + url.PathEscape(id)
	return c.do(ctx, http.MethodPut, path, CommentPayload{Body: body}, nil)
}

// GetRemoteLinks lists the remote links of an issue.
func (c *Client) GetRemoteLinks(ctx context.Context, key string) ([]RemoteLink, error) {
	var links []RemoteLink
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key)+"/remotelink", nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// CreateRemoteLink adds a remote link. A link with the same globalId is
// updated in place by JIRA.
func (c *Client) CreateRemoteLink(ctx context.Context, key string, link RemoteLink) error {
	return c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/remotelink", link, nil)
}

// SearchUsers finds users whose name or email matches query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/user/search?query="+url.QueryEscape(query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Myself returns the authenticated user.
func (c *Client) Myself(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/myself", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateIssueLink links two issues.
func (c *Client) CreateIssueLink(ctx context.Context, payload IssueLinkPayload) error {
	return c.do(ctx, http.MethodPost, "/rest/api/3/issueLink", payload, nil)
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx statuses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       strings.SplitN(path, "?", 2)[0],
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// offsetCursor encodes an offset as a pagination cursor.
func offsetCursor(n int) string { return strconv.Itoa(n) }

func parseOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid offset cursor %q: %w", cursor, err)
	}
	return n, nil
}
