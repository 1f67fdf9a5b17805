package markdown

import (
	"fmt"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/jira"
)

// ToMarkdown converts an ADF document to markdown. Nodes with no markdown
// counterpart render their children; media is dropped.
func ToMarkdown(node *jira.ADFNode) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, node, "")
	return strings.TrimRight(b.String(), "\n")
}

func renderNode(b *strings.Builder, node *jira.ADFNode, listPrefix string) {
	switch node.Type {
	case "doc":
		renderChildren(b, node, "")

	case "paragraph":
		renderInlineChildren(b, node)
		b.WriteString("\n\n")

	case "heading":
		level := intAttr(node.Attrs, "level", 2)
		if level < 1 || level > 6 {
			level = 2
		}
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		renderInlineChildren(b, node)
		b.WriteString("\n\n")

	case "bulletList":
		for i := range node.Content {
			renderNode(b, &node.Content[i], listPrefix+"- ")
		}
		b.WriteString("\n")

	case "orderedList":
		start := intAttr(node.Attrs, "order", 1)
		for i := range node.Content {
			renderNode(b, &node.Content[i], fmt.Sprintf("%s%d. ", listPrefix, start+i))
		}
		b.WriteString("\n")

	case "taskList":
		for i := range node.Content {
			renderNode(b, &node.Content[i], listPrefix)
		}
		b.WriteString("\n")

	case "taskItem":
		box := "[ ] "
		if stringAttr(node.Attrs, "state") == "DONE" {
			box = "[x] "
		}
		b.WriteString(listPrefix)
		b.WriteString("- ")
		b.WriteString(box)
		renderInlineChildren(b, node)
		b.WriteString("\n")

	case "listItem":
		// A list item may contain paragraphs or nested lists.
		nested := indentPrefix(listPrefix)
		for i := range node.Content {
			child := &node.Content[i]
			switch {
			case i == 0 && child.Type == "paragraph":
				b.WriteString(listPrefix)
				renderInlineChildren(b, child)
				b.WriteString("\n")
			case child.Type == "bulletList" || child.Type == "orderedList":
				renderNestedList(b, child, nested)
			default:
				var inner strings.Builder
				renderNode(&inner, child, "")
				for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
					b.WriteString(nested)
					b.WriteString(line)
					b.WriteString("\n")
				}
			}
		}

	case "codeBlock":
		lang := stringAttr(node.Attrs, "language")
		b.WriteString("```")
		b.WriteString(lang)
		b.WriteString("\n")
		for _, child := range node.Content {
			b.WriteString(child.Text)
		}
		b.WriteString("\n```\n\n")

	case "blockquote", "panel":
		var inner strings.Builder
		renderChildren(&inner, node, "")
		lines := strings.Split(strings.TrimRight(inner.String(), "\n"), "\n")
		for _, line := range lines {
			b.WriteString(strings.TrimRight("> "+line, " "))
			b.WriteString("\n")
		}
		b.WriteString("\n")

	case "rule":
		b.WriteString("---\n\n")

	case "table":
		renderTable(b, node)

	case "text":
		b.WriteString(applyMarks(node.Text, node.Marks))

	case "hardBreak":
		b.WriteString("\\\n")

	case "mention":
		name := strings.TrimPrefix(stringAttr(node.Attrs, "text"), "@")
		b.WriteString("@")
		b.WriteString(name)

	case "inlineCard", "blockCard", "embedCard":
		url := stringAttr(node.Attrs, "url")
		if node.Type == "inlineCard" {
			b.WriteString("<" + url + ">")
		} else {
			b.WriteString("<" + url + ">\n\n")
		}

	case "emoji":
		text := stringAttr(node.Attrs, "text")
		if text == "" {
			text = stringAttr(node.Attrs, "shortName")
		}
		b.WriteString(text)

	case "status":
		b.WriteString("`")
		b.WriteString(stringAttr(node.Attrs, "text"))
		b.WriteString("`")

	case "date":
		b.WriteString(formatTimestamp(stringAttr(node.Attrs, "timestamp")))

	case "mediaGroup", "mediaSingle", "media", "mediaInline",
		"extension", "inlineExtension", "placeholder":
		// Binary content and macros are not mirrored.

	default:
		// expand, layoutSection, decisionList and friends: render children.
		renderChildren(b, node, listPrefix)
	}
}

func renderNestedList(b *strings.Builder, list *jira.ADFNode, indent string) {
	start := intAttr(list.Attrs, "order", 1)
	for j := range list.Content {
		prefix := "- "
		if list.Type == "orderedList" {
			prefix = fmt.Sprintf("%d. ", start+j)
		}
		renderNode(b, &list.Content[j], indent+prefix)
	}
}

func renderChildren(b *strings.Builder, node *jira.ADFNode, listPrefix string) {
	for i := range node.Content {
		renderNode(b, &node.Content[i], listPrefix)
	}
}

func renderInlineChildren(b *strings.Builder, node *jira.ADFNode) {
	for i := range node.Content {
		renderNode(b, &node.Content[i], "")
	}
}

func renderTable(b *strings.Builder, node *jira.ADFNode) {
	if len(node.Content) == 0 {
		return
	}

	rows := make([][]string, 0, len(node.Content))
	for _, row := range node.Content {
		if row.Type != "tableRow" {
			continue
		}
		cells := make([]string, 0, len(row.Content))
		for _, cell := range row.Content {
			var cellBuf strings.Builder
			for i := range cell.Content {
				renderInlineChildren(&cellBuf, &cell.Content[i])
			}
			text := strings.TrimSpace(cellBuf.String())
			text = strings.ReplaceAll(text, "|", "\\|")
			if cell.Type == "tableHeader" {
				// Header cells are already bold; keeping the marks would
				// accumulate them across round-trips.
				for strings.HasPrefix(text, "**") && strings.HasSuffix(text, "**") && len(text) > 4 {
					text = text[2 : len(text)-2]
				}
			}
			cells = append(cells, text)
		}
		rows = append(rows, cells)
	}

	if len(rows) == 0 {
		return
	}

	maxCols := 0
	for _, row := range rows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}

	b.WriteString("| ")
	b.WriteString(strings.Join(padRow(rows[0], maxCols), " | "))
	b.WriteString(" |\n")

	sep := make([]string, maxCols)
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| ")
	b.WriteString(strings.Join(sep, " | "))
	b.WriteString(" |\n")

	for _, row := range rows[1:] {
		b.WriteString("| ")
		b.WriteString(strings.Join(padRow(row, maxCols), " | "))
		b.WriteString(" |\n")
	}
	b.WriteString("\n")
}

func padRow(row []string, cols int) []string {
	for len(row) < cols {
		row = append(row, "")
	}
	return row
}

func applyMarks(text string, marks []jira.ADFMark) string {
	var href string
	for _, mark := range marks {
		switch mark.Type {
		case "code":
			text = "`" + text + "`"
		case "strong":
			text = "**" + text + "**"
		case "em":
			text = "*" + text + "*"
		case "strike":
			text = "~~" + text + "~~"
		case "link":
			href = stringAttr(mark.Attrs, "href")
		case "underline", "subsup", "textColor", "backgroundColor":
			// No markdown equivalent.
		}
	}
	// Links wrap everything else so nested emphasis stays inside the label.
	if href != "" {
		text = fmt.Sprintf("[%s](%s)", text, href)
	}
	return text
}

func indentPrefix(prefix string) string {
	return strings.Repeat(" ", len(prefix))
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// intAttr reads a numeric attribute. JSON-decoded documents carry float64,
// documents built in memory carry int.
func intAttr(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
