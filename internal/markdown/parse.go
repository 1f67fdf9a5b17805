package markdown

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dt-pm-tools/jira-sync/internal/jira"
)

var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func getParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInstance
}

// FromMarkdown converts GFM markdown to an ADF document.
func FromMarkdown(md string) *jira.ADFNode {
	source := []byte(md)
	document := getParser().Parser().Parse(text.NewReader(source))

	b := &adfBuilder{source: source}
	doc := &jira.ADFNode{Type: "doc", Version: 1, Content: []jira.ADFNode{}}
	for n := document.FirstChild(); n != nil; n = n.NextSibling() {
		doc.Content = append(doc.Content, b.block(n)...)
	}
	return doc
}

type adfBuilder struct {
	source []byte
}

func (b *adfBuilder) block(n ast.Node) []jira.ADFNode {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		content := b.inlines(n, nil)
		if len(content) == 0 {
			return nil
		}
		return []jira.ADFNode{{Type: "paragraph", Content: content}}

	case *ast.Heading:
		return []jira.ADFNode{{
			Type:    "heading",
			Attrs:   map[string]any{"level": n.Level},
			Content: b.inlines(n, nil),
		}}

	case *ast.ThematicBreak:
		return []jira.ADFNode{{Type: "rule"}}

	case *ast.FencedCodeBlock:
		node := jira.ADFNode{Type: "codeBlock"}
		if lang := string(n.Language(b.source)); lang != "" {
			node.Attrs = map[string]any{"language": lang}
		}
		node.Content = b.codeText(n.Lines())
		return []jira.ADFNode{node}

	case *ast.CodeBlock:
		return []jira.ADFNode{{Type: "codeBlock", Content: b.codeText(n.Lines())}}

	case *ast.HTMLBlock:
		lines := n.Lines()
		var sb strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(b.source))
		}
		raw := strings.TrimSpace(sb.String())
		if raw == "" {
			return nil
		}
		return []jira.ADFNode{{Type: "paragraph", Content: []jira.ADFNode{{Type: "text", Text: raw}}}}

	case *ast.Blockquote:
		node := jira.ADFNode{Type: "blockquote"}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			node.Content = append(node.Content, b.block(c)...)
		}
		if len(node.Content) == 0 {
			return nil
		}
		return []jira.ADFNode{node}

	case *ast.List:
		if isTaskList(n) {
			return []jira.ADFNode{b.taskList(n)}
		}
		node := jira.ADFNode{Type: "bulletList"}
		if n.IsOrdered() {
			node.Type = "orderedList"
			if n.Start > 1 {
				node.Attrs = map[string]any{"order": n.Start}
			}
		}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			node.Content = append(node.Content, b.listItem(item))
		}
		return []jira.ADFNode{node}

	case *extast.Table:
		return []jira.ADFNode{b.table(n)}

	default:
		var out []jira.ADFNode
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			out = append(out, b.block(c)...)
		}
		return out
	}
}

func (b *adfBuilder) listItem(item ast.Node) jira.ADFNode {
	node := jira.ADFNode{Type: "listItem"}
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		node.Content = append(node.Content, b.block(c)...)
	}
	// ADF rejects empty list items.
	if len(node.Content) == 0 {
		node.Content = []jira.ADFNode{{Type: "paragraph"}}
	}
	return node
}

func isTaskList(list *ast.List) bool {
	first := list.FirstChild()
	if first == nil || first.FirstChild() == nil {
		return false
	}
	_, ok := first.FirstChild().FirstChild().(*extast.TaskCheckBox)
	return ok
}

func (b *adfBuilder) taskList(list *ast.List) jira.ADFNode {
	node := jira.ADFNode{Type: "taskList", Attrs: map[string]any{"localId": uuid.NewString()}}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		state := "TODO"
		var content []jira.ADFNode
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if box, ok := c.FirstChild().(*extast.TaskCheckBox); ok && box.IsChecked {
				state = "DONE"
			}
			content = append(content, b.inlines(c, nil)...)
		}
		node.Content = append(node.Content, jira.ADFNode{
			Type:    "taskItem",
			Attrs:   map[string]any{"localId": uuid.NewString(), "state": state},
			Content: trimLeadingSpace(content),
		})
	}
	return node
}

func (b *adfBuilder) table(t *extast.Table) jira.ADFNode {
	node := jira.ADFNode{Type: "table"}
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		cellType := "tableCell"
		if _, ok := row.(*extast.TableHeader); ok {
			cellType = "tableHeader"
		}
		adfRow := jira.ADFNode{Type: "tableRow"}
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			para := jira.ADFNode{Type: "paragraph", Content: b.inlines(cell, nil)}
			adfRow.Content = append(adfRow.Content, jira.ADFNode{
				Type:    cellType,
				Content: []jira.ADFNode{para},
			})
		}
		node.Content = append(node.Content, adfRow)
	}
	return node
}

func (b *adfBuilder) codeText(lines *text.Segments) []jira.ADFNode {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(b.source))
	}
	code := strings.TrimRight(sb.String(), "\n")
	if code == "" {
		return nil
	}
	return []jira.ADFNode{{Type: "text", Text: code}}
}

// inlines flattens the inline children of n into ADF text nodes carrying
// marks.
func (b *adfBuilder) inlines(n ast.Node, marks []jira.ADFMark) []jira.ADFNode {
	var out []jira.ADFNode
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, b.inline(c, marks)...)
	}
	return mergeText(out)
}

func (b *adfBuilder) inline(n ast.Node, marks []jira.ADFMark) []jira.ADFNode {
	switch n := n.(type) {
	case *ast.Text:
		var out []jira.ADFNode
		if v := string(n.Segment.Value(b.source)); v != "" {
			out = append(out, textNode(v, marks))
		}
		switch {
		case n.HardLineBreak():
			out = append(out, jira.ADFNode{Type: "hardBreak"})
		case n.SoftLineBreak():
			out = append(out, textNode(" ", marks))
		}
		return out

	case *ast.String:
		return []jira.ADFNode{textNode(string(n.Value), marks)}

	case *ast.CodeSpan:
		var sb strings.Builder
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				sb.Write(t.Segment.Value(b.source))
			case *ast.String:
				sb.Write(t.Value)
			}
		}
		return []jira.ADFNode{textNode(sb.String(), withMark(marks, jira.ADFMark{Type: "code"}))}

	case *ast.Emphasis:
		mark := jira.ADFMark{Type: "em"}
		if n.Level >= 2 {
			mark.Type = "strong"
		}
		return b.inlines(n, withMark(marks, mark))

	case *extast.Strikethrough:
		return b.inlines(n, withMark(marks, jira.ADFMark{Type: "strike"}))

	case *ast.Link:
		link := jira.ADFMark{Type: "link", Attrs: map[string]any{"href": string(n.Destination)}}
		return b.inlines(n, withMark(marks, link))

	case *ast.AutoLink:
		url := string(n.URL(b.source))
		if n.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(url, "mailto:") {
			url = "mailto:" + url
		}
		link := jira.ADFMark{Type: "link", Attrs: map[string]any{"href": url}}
		return []jira.ADFNode{textNode(string(n.Label(b.source)), withMark(marks, link))}

	case *ast.Image:
		alt := b.inlines(n, nil)
		label := string(n.Destination)
		if len(alt) > 0 {
			label = plainText(alt)
		}
		link := jira.ADFMark{Type: "link", Attrs: map[string]any{"href": string(n.Destination)}}
		return []jira.ADFNode{textNode(label, withMark(marks, link))}

	case *ast.RawHTML:
		var sb strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			sb.Write(seg.Value(b.source))
		}
		return []jira.ADFNode{textNode(sb.String(), marks)}

	case *extast.TaskCheckBox:
		return nil

	default:
		return b.inlines(n, marks)
	}
}

func textNode(s string, marks []jira.ADFMark) jira.ADFNode {
	node := jira.ADFNode{Type: "text", Text: s}
	if len(marks) > 0 {
		node.Marks = append([]jira.ADFMark(nil), marks...)
	}
	return node
}

func withMark(marks []jira.ADFMark, m jira.ADFMark) []jira.ADFMark {
	out := make([]jira.ADFMark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, m)
}

// mergeText joins adjacent text nodes that carry identical marks and drops
// empty ones; ADF rejects empty text.
func mergeText(nodes []jira.ADFNode) []jira.ADFNode {
	out := make([]jira.ADFNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == "text" && n.Text == "" {
			continue
		}
		if last := len(out) - 1; last >= 0 && n.Type == "text" && out[last].Type == "text" && sameMarks(out[last].Marks, n.Marks) {
			out[last].Text += n.Text
			continue
		}
		out = append(out, n)
	}
	return out
}

func sameMarks(a, b []jira.ADFMark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || stringAttr(a[i].Attrs, "href") != stringAttr(b[i].Attrs, "href") {
			return false
		}
	}
	return true
}

func trimLeadingSpace(nodes []jira.ADFNode) []jira.ADFNode {
	if len(nodes) > 0 && nodes[0].Type == "text" {
		nodes[0].Text = strings.TrimLeft(nodes[0].Text, " ")
		if nodes[0].Text == "" {
			nodes = nodes[1:]
		}
	}
	return nodes
}

func plainText(nodes []jira.ADFNode) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(n.Text)
	}
	return sb.String()
}
