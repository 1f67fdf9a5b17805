package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dt-pm-tools/jira-sync/internal/engine"
	"github.com/dt-pm-tools/jira-sync/internal/markdown"
	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

var (
	outputDir   string
	inspectEpic bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <ref>",
	Short: "Show an entity and its counterpart as markdown",
	Long: `Fetches an entity and the entity it is paired with in the other tracker,
and renders both as read-only markdown with YAML frontmatter.

<ref> is a JIRA key in the configured project (PROJ-12), or a Linear issue
identifier (ENG-34). With --project, <ref> is a Linear project id or slug.
Writes to stdout by default, or to files with --output-dir.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		states, err := appConfig.StateMap()
		if err != nil {
			return err
		}
		a, b, err := newTrackers(states)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		ref := args[0]
		var from, to engine.Tracker = a, b
		kind := tracker.KindIssue
		p := tracker.Pointer{System: tracker.Linear, ID: ref}
		switch {
		case inspectEpic:
			kind = tracker.KindEpic
		case strings.HasPrefix(strings.ToUpper(ref), strings.ToUpper(appConfig.Jira.Project)+"-"):
			from, to = b, a
			p = tracker.Pointer{System: tracker.Jira, Key: strings.ToUpper(ref)}
		}

		ent, err := from.Lookup(ctx, kind, p)
		if err != nil {
			return err
		}
		if ent == nil {
			return fmt.Errorf("%s not found in %s", ref, from.System())
		}

		var other tracker.Entity
		link, err := ent.ExternalLink(ctx)
		if err != nil {
			return fmt.Errorf("reading link of %s: %w", ent.Key(), err)
		}
		if link != nil {
			if other, err = to.Lookup(ctx, ent.Kind(), *link); err != nil {
				return err
			}
		}

		for _, e := range []tracker.Entity{ent, other} {
			if e == nil {
				continue
			}
			md, err := render(ctx, e)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", e.Key(), err)
			}
			if outputDir == "" {
				fmt.Print(md)
				continue
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			filename := filepath.Join(outputDir, string(e.System())+"-"+e.Key()+".md")
			if err := os.WriteFile(filename, []byte(md), 0644); err != nil {
				return fmt.Errorf("writing file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Written to %s\n", filename)
		}
		if other == nil {
			fmt.Fprintf(os.Stderr, "%s is not paired yet\n", ent.Key())
		}
		return nil
	},
}

func render(ctx context.Context, e tracker.Entity) (string, error) {
	state, _ := e.StateName()
	d := markdown.Document{
		System:     string(e.System()),
		Kind:       e.Kind().String(),
		Key:        e.Key(),
		Title:      e.Summary(),
		State:      state,
		Resolution: e.Resolution(),
		Assignee:   e.AssigneeEmail(),
		Creator:    e.CreatorEmail(),
		Parent:     e.ParentKey(),
		URL:        e.URL(),
		Updated:    e.UpdatedAt(),
		Body:       e.Description(),
	}
	link, err := e.ExternalLink(ctx)
	if err != nil {
		return "", err
	}
	if link != nil {
		d.Counterpart = link.URL
	}
	comments, err := e.CommentsSince(ctx, time.Time{})
	if err != nil {
		return "", err
	}
	for _, c := range comments {
		d.Comments = append(d.Comments, markdown.DocumentComment{Author: c.Author, Date: c.Created, Body: c.Body})
	}
	return markdown.Marshal(d)
}

func init() {
	inspectCmd.Flags().StringVar(&outputDir, "output-dir", "", "write output to <dir>/<system>-<KEY>.md instead of stdout")
	inspectCmd.Flags().BoolVar(&inspectEpic, "project", false, "treat <ref> as a Linear project")
	rootCmd.AddCommand(inspectCmd)
}
