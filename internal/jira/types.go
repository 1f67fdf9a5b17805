package jira

import "time"

// TimeLayout is the timestamp format of the REST API v3.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// ParseTime parses a Jira timestamp. Falls back to RFC 3339.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Issue represents a JIRA issue from the REST API v3.
type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self,omitempty"`
	Fields Fields `json:"fields"`
}

// Fields contains the issue fields we care about.
type Fields struct {
	Summary     string      `json:"summary"`
	Status      Status      `json:"status"`
	IssueType   IssueType   `json:"issuetype"`
	Project     *Project    `json:"project,omitempty"`
	Resolution  *Resolution `json:"resolution,omitempty"`
	Assignee    *User       `json:"assignee,omitempty"`
	Reporter    *User       `json:"reporter,omitempty"`
	Creator     *User       `json:"creator,omitempty"`
	Parent      *Parent     `json:"parent,omitempty"`
	Description *ADFNode    `json:"description,omitempty"`
	IssueLinks  []IssueLink `json:"issuelinks,omitempty"`
	Updated     string      `json:"updated,omitempty"`
	Created     string      `json:"created,omitempty"`
}

// Status represents a JIRA status.
type Status struct {
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// StatusCategory represents the high-level category of a JIRA status.
type StatusCategory struct {
	Key  string `json:"key"`  // "new", "indeterminate", "done"
	Name string `json:"name"` // "To Do", "In Progress", "Done"
}

// IssueType represents a JIRA issue type.
type IssueType struct {
	Name string `json:"name"`
}

// Project is the minimal project reference carried on issues.
type Project struct {
	Key string `json:"key"`
}

// Resolution is the resolution of a resolved issue.
type Resolution struct {
	Name string `json:"name"`
}

// Parent is the parent (epic) reference of an issue.
type Parent struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// User represents a JIRA user.
type User struct {
	AccountID    string `json:"accountId,omitempty"`
	AccountType  string `json:"accountType,omitempty"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// Comment represents a single JIRA comment.
type Comment struct {
	ID      string   `json:"id,omitempty"`
	Author  User     `json:"author"`
	Body    *ADFNode `json:"body"`
	Created string   `json:"created"`
	Updated string   `json:"updated,omitempty"`
}

// CommentsPage is one offset page of GET /issue/{key}/comment.
type CommentsPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

// CommentPayload is the body for comment create and update.
type CommentPayload struct {
	Body *ADFNode `json:"body"`
}

// ADFNode represents a node in the Atlassian Document Format.
type ADFNode struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Content []ADFNode      `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []ADFMark      `json:"marks,omitempty"`
}

// ADFMark represents an inline formatting mark in ADF.
type ADFMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// SearchRequest is the body for POST /rest/api/3/search/jql.
type SearchRequest struct {
	JQL           string   `json:"jql"`
	Fields        []string `json:"fields,omitempty"`
	MaxResults    int      `json:"maxResults,omitempty"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// SearchResponse is one page of enhanced JQL search results.
type SearchResponse struct {
	Issues        []Issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	IsLast        bool    `json:"isLast"`
}

// CreatePayload is the body for POST /rest/api/3/issue.
type CreatePayload struct {
	Fields map[string]any `json:"fields"`
}

// CreatedIssue is the response of POST /rest/api/3/issue.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// UpdatePayload is the body for PUT /rest/api/3/issue/{key}. Fields set to
// nil are cleared.
type UpdatePayload struct {
	Fields map[string]any `json:"fields"`
}

// Transition is used to change issue status.
type Transition struct {
	ID string `json:"id"`
}

// TransitionPayload is the body for POST /rest/api/3/issue/{key}/transitions.
type TransitionPayload struct {
	Transition Transition     `json:"transition"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// TransitionsResponse is the response from GET transitions.
type TransitionsResponse struct {
	Transitions []TransitionInfo `json:"transitions"`
}

// TransitionInfo describes an available transition. Fields is only
// populated with expand=transitions.fields.
type TransitionInfo struct {
	ID     string                     `json:"id"`
	Name   string                     `json:"name"`
	To     Status                     `json:"to"`
	Fields map[string]TransitionField `json:"fields,omitempty"`
}

// TransitionField is a field on a transition screen.
type TransitionField struct {
	Required bool   `json:"required"`
	Name     string `json:"name"`
}

// RemoteLink is a link from an issue to an object in another system.
type RemoteLink struct {
	ID           int          `json:"id,omitempty"`
	GlobalID     string       `json:"globalId,omitempty"`
	Relationship string       `json:"relationship,omitempty"`
	Object       RemoteObject `json:"object"`
}

// RemoteObject is the target of a RemoteLink.
type RemoteObject struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// IssueLink is an issue-to-issue link as carried in the issuelinks field.
// Exactly one of InwardIssue and OutwardIssue is set, naming the other end.
type IssueLink struct {
	ID           string        `json:"id,omitempty"`
	Type         IssueLinkType `json:"type"`
	InwardIssue  *LinkedIssue  `json:"inwardIssue,omitempty"`
	OutwardIssue *LinkedIssue  `json:"outwardIssue,omitempty"`
}

// IssueLinkType names a link type such as Blocks or Relates.
type IssueLinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward,omitempty"`
	Outward string `json:"outward,omitempty"`
}

// LinkedIssue is the minimal issue reference inside an IssueLink.
type LinkedIssue struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// IssueLinkPayload is the body for POST /rest/api/3/issueLink.
type IssueLinkPayload struct {
	Type         IssueLinkType `json:"type"`
	InwardIssue  LinkedIssue   `json:"inwardIssue"`
	OutwardIssue LinkedIssue   `json:"outwardIssue"`
}
