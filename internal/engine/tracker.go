package engine

import (
	"context"
	"time"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// Tracker is the surface the engine needs from either tracker. Lookups
// return a nil entity and a nil error when nothing matches.
type Tracker interface {
	System() tracker.System

	// Updated lists entities of kind updated at or after since, oldest
	// first. A failed page aborts the whole listing.
	Updated(ctx context.Context, kind tracker.Kind, since time.Time) ([]tracker.Entity, error)
	// FindByTag finds the entity whose description carries tag.
	FindByTag(ctx context.Context, kind tracker.Kind, tag string) (tracker.Entity, error)
	// FindByBackLink finds the entity whose cross link points at url.
	FindByBackLink(ctx context.Context, kind tracker.Kind, url string) (tracker.Entity, error)
	// Lookup resolves a pointer stored by the other tracker.
	Lookup(ctx context.Context, kind tracker.Kind, p tracker.Pointer) (tracker.Entity, error)

	Create(ctx context.Context, kind tracker.Kind, f tracker.Fields) (tracker.Entity, error)
	Update(ctx context.Context, e tracker.Entity, f tracker.Fields) error

	// Comments lists every comment on e, oldest first.
	Comments(ctx context.Context, e tracker.Entity) ([]tracker.Comment, error)
	CreateComment(ctx context.Context, e tracker.Entity, body string) error
	UpdateComment(ctx context.Context, e tracker.Entity, commentID, body string) error

	// UserID maps an email to the tracker-native user id, "" when unknown.
	UserID(ctx context.Context, email string) (string, error)
	// SelfEmail is the email of the account the engine authenticates as.
	SelfEmail(ctx context.Context) (string, error)
}

// TrackerA is the source of truth for relations.
type TrackerA interface {
	Tracker
	// Team is the key of the configured team.
	Team() string
	// Relations lists issue relations updated after since.
	Relations(ctx context.Context, since time.Time) ([]tracker.Relation, error)
}

// TrackerB carries the workflow and issue-link surface.
type TrackerB interface {
	Tracker
	Transitions(ctx context.Context, e tracker.Entity) ([]tracker.Transition, error)
	// Transition executes t, setting resolution when non-empty.
	Transition(ctx context.Context, e tracker.Entity, t tracker.Transition, resolution string) error
	// IssueLinks lists the links touching the issue with key.
	IssueLinks(ctx context.Context, key string) ([]tracker.IssueLink, error)
	LinkIssues(ctx context.Context, link tracker.IssueLink) error
}

// CheckpointStore persists the sync frontier.
type CheckpointStore interface {
	LoadCommitted() (time.Time, error)
	LoadAttemptIfCrashed() (time.Time, bool, error)
	BeginAttempt(t time.Time) error
	Commit(t time.Time) error
	Abandon() error
}
