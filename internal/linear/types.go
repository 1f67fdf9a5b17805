package linear

import (
	"encoding/json"
	"time"
)

// PageInfo is the Relay page descriptor of every Linear connection.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Connection is a page of nodes.
type Connection[T any] struct {
	Nodes    []T      `json:"nodes"`
	PageInfo PageInfo `json:"pageInfo"`
}

// User is a workspace member.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Team is the subset of a team the sync uses.
type Team struct {
	ID     string                    `json:"id"`
	Key    string                    `json:"key"`
	Name   string                    `json:"name,omitempty"`
	States *Connection[WorkflowState] `json:"states,omitempty"`
}

// WorkflowState is an issue workflow state. Type is one of triage, backlog,
// unstarted, started, completed, canceled.
type WorkflowState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Position float64 `json:"position,omitempty"`
}

// ProjectStatus is a workspace project status. Type is one of backlog,
// planned, started, paused, completed, canceled.
type ProjectStatus struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// IssueRef is an issue as it appears on the ends of a relation.
type IssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Team       Team   `json:"team"`
}

// ProjectRef is the parent project of an issue.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Issue is a Linear issue.
type Issue struct {
	ID          string         `json:"id"`
	Identifier  string         `json:"identifier"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	State       *WorkflowState `json:"state"`
	Assignee    *User          `json:"assignee"`
	Creator     *User          `json:"creator"`
	Project     *ProjectRef    `json:"project"`
	Team        Team           `json:"team"`
}

// Project is a Linear project. Content holds the long markdown body.
type Project struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	SlugID    string         `json:"slugId"`
	Content   string         `json:"content"`
	URL       string         `json:"url"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Status    *ProjectStatus `json:"status"`
	Lead      *User          `json:"lead"`
	Creator   *User          `json:"creator"`
}

// Comment is an issue comment.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	User      *User     `json:"user"`
}

// Attachment links an issue to an external URL. Metadata is free-form.
type Attachment struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Issue    *Issue          `json:"issue,omitempty"`
}

// AttachmentMetadata is what the sync stores on its own attachments.
type AttachmentMetadata struct {
	JiraID  string `json:"jiraId"`
	JiraKey string `json:"jiraKey"`
}

// ProjectLink is an external link on a project.
type ProjectLink struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label"`
}

// IssueRelation is a directed relation between two issues. Type is one of
// related, blocks, duplicate, similar.
type IssueRelation struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Issue        IssueRef  `json:"issue"`
	RelatedIssue IssueRef  `json:"relatedIssue"`
}
