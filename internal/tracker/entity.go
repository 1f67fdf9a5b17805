// Package tracker defines the tracker-agnostic shape of a synchronized entity
// and the pure helpers (identity tags, state mapping, text normalization)
// shared by both sync directions.
package tracker

import (
	"context"
	"time"
)

// System names one of the two synchronized trackers.
type System string

const (
	Linear System = "linear"
	Jira   System = "jira"
)

// Kind distinguishes flat issues from project-like containers
// (Linear projects, Jira epics).
type Kind int

const (
	KindIssue Kind = iota
	KindEpic
)

func (k Kind) String() string {
	switch k {
	case KindIssue:
		return "issue"
	case KindEpic:
		return "epic"
	default:
		return "unknown"
	}
}

// Pointer is one side of a cross link: enough to look the entity up again.
type Pointer struct {
	System System
	ID     string // tracker-native id; may be empty for Jira where Key suffices
	Key    string // human key (ENG-12, PROJ-7)
	URL    string
}

// Ref returns the best available lookup handle (ID, else Key).
func (p Pointer) Ref() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Key
}

// Comment is a comment on either tracker, body in markdown.
type Comment struct {
	ID          string
	Author      string // display name
	AuthorEmail string
	Body        string
	Created     time.Time
	Updated     time.Time
}

// Entity is the capability interface every tracker record is adapted to.
// Implementations wrap a native record and the client needed to read its
// comments and links. The external-link slot is write-once: CreateLink is a
// no-op when a link already exists.
type Entity interface {
	Kind() Kind
	System() System
	ID() string
	Key() string
	URL() string

	Summary() string
	// Description is markdown.
	Description() string
	// StateName is the tracker's workflow state, normalized for Linear.
	StateName() (string, bool)
	// Resolution is the Jira resolution name; always empty for Linear.
	Resolution() string
	AssigneeEmail() string
	// AssigneeID is the tracker-native assignee id, empty when unassigned.
	AssigneeID() string
	CreatorEmail() string
	// ParentKey is the native id/key of the parent container, if any.
	ParentKey() string
	UpdatedAt() time.Time

	// ParentExternalKey returns the counterpart reference of this entity's
	// parent in the other tracker, or "" when there is none.
	ParentExternalKey(ctx context.Context) (string, error)
	// ExternalLink returns the cross-tracker pointer stored on this entity.
	ExternalLink(ctx context.Context) (*Pointer, error)
	// CreateLink stores p as this entity's cross-tracker pointer.
	CreateLink(ctx context.Context, p Pointer) error
	// CommentsSince returns comments created or updated after since, oldest
	// first.
	CommentsSince(ctx context.Context, since time.Time) ([]Comment, error)
}

// PointerTo builds the pointer that another tracker stores to reach e.
func PointerTo(e Entity) Pointer {
	return Pointer{System: e.System(), ID: e.ID(), Key: e.Key(), URL: e.URL()}
}

// Fields is the set of values a driver pushes to one tracker. Nil pointer
// fields are left untouched by Update.
type Fields struct {
	Summary     string
	Description string // markdown, tags already applied
	// Assignee is the native user id; a pointer to "" unassigns.
	Assignee *string
	// Reporter is only honored on create and only where the tracker allows it.
	Reporter *string
	// State is a normalized Linear state name (reverse direction only).
	State string
	// Parent is the native id/key of the parent container.
	Parent string
}

// Relation is an issue-to-issue relation in Tracker A.
type Relation struct {
	ID        string
	Type      string
	FromID    string
	FromTeam  string
	ToID      string
	ToTeam    string
	UpdatedAt time.Time
}

// Transition is one workflow transition available on a Jira entity.
type Transition struct {
	ID   string
	Name string
	To   string // target status name
	// AcceptsResolution is set when the transition screen has a resolution
	// field.
	AcceptsResolution bool
}

// IssueLink is a directed issue-to-issue link in Tracker B, named by the
// keys of both ends.
type IssueLink struct {
	Type string
	From string
	To   string
}
