package markdown

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dt-pm-tools/jira-sync/internal/jira"
)

// Converter adapts the package functions to the jira.Converter interface.
type Converter struct{}

func (Converter) ToMarkdown(doc *jira.ADFNode) string { return ToMarkdown(doc) }
func (Converter) FromMarkdown(md string) *jira.ADFNode { return FromMarkdown(md) }

// Document is an entity rendered for humans: read-only metadata in YAML
// frontmatter, then the description and comments.
type Document struct {
	System      string    `yaml:"system"`
	Kind        string    `yaml:"kind"`
	Key         string    `yaml:"key"`
	Title       string    `yaml:"title"`
	State       string    `yaml:"state,omitempty"`
	Resolution  string    `yaml:"resolution,omitempty"`
	Assignee    string    `yaml:"assignee,omitempty"`
	Creator     string    `yaml:"creator,omitempty"`
	Parent      string    `yaml:"parent,omitempty"`
	URL         string    `yaml:"url"`
	Counterpart string    `yaml:"counterpart,omitempty"`
	Updated     time.Time `yaml:"updated"`

	Body     string            `yaml:"-"`
	Comments []DocumentComment `yaml:"-"`
}

// DocumentComment is one comment of a Document.
type DocumentComment struct {
	Author string
	Date   time.Time
	Body   string
}

// Marshal renders d as markdown with YAML frontmatter.
func Marshal(d Document) (string, error) {
	meta, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshalling frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("# READ-ONLY snapshot. Edit the entity in its tracker.\n")
	b.Write(meta)
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s: %s\n\n", d.Key, d.Title)

	b.WriteString("## Description\n\n")
	if strings.TrimSpace(d.Body) != "" {
		b.WriteString(strings.TrimRight(d.Body, "\n"))
		b.WriteString("\n")
	} else {
		b.WriteString("(No description)\n")
	}
	b.WriteString("\n")

	if len(d.Comments) > 0 {
		b.WriteString("## Comments\n\n")
		for _, c := range d.Comments {
			fmt.Fprintf(&b, "### %s - %s\n\n", c.Author, c.Date.UTC().Format("2006-01-02"))
			if body := strings.TrimRight(c.Body, "\n"); body != "" {
				b.WriteString(body)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

// formatTimestamp renders an ADF date node (milliseconds since the epoch)
// as a calendar date.
func formatTimestamp(ms string) string {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return ms
	}
	return time.UnixMilli(n).UTC().Format("2006-01-02")
}
