package worklist

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// dependsLineRe matches an explicit "Depends on: a, b" line under a
// backlog heading. Bold markers around the label are tolerated.
var dependsLineRe = regexp.MustCompile(`(?im)^\**Depends on\**:\s*(.+)$`)

// LoadMarkdown parses a Markdown backlog into work items. Each level-2
// heading starts an item; the heading text becomes the id (slugged) and
// everything until the next level-2 heading becomes the description.
//
//	## Add login endpoint
//	Wire the session middleware first.
//	Depends on: session-middleware
func LoadMarkdown(path string) ([]Item, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	// Collect the source offsets of level-2 headings, then slice the raw
	// document between them. Slicing keeps code blocks and lists intact in
	// the description without re-rendering the AST.
	type headingMark struct {
		title string
		start int // offset of the first line after the heading
		line  int // offset of the heading itself
	}
	var marks []headingMark

	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 || heading.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		seg := heading.Lines().At(heading.Lines().Len() - 1)
		// The segment starts after the "## " marker; back up to the line
		// start so body slices never include a neighbor's marker.
		lineStart := heading.Lines().At(0).Start
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
		marks = append(marks, headingMark{
			title: headingText(heading, source),
			start: seg.Stop,
			line:  lineStart,
		})
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk backlog %s: %w", path, err)
	}

	items := make([]Item, 0, len(marks))
	for i, m := range marks {
		end := len(source)
		if i+1 < len(marks) {
			end = marks[i+1].line
		}
		body := strings.TrimSpace(string(source[m.start:end]))

		item := Item{
			ID:          Slug(m.title),
			Description: m.title,
		}
		if body != "" {
			item.Description = m.title + "\n\n" + body
		}
		for _, match := range dependsLineRe.FindAllStringSubmatch(body, -1) {
			for _, dep := range strings.Split(match[1], ",") {
				dep = strings.TrimSpace(strings.Trim(dep, "`*"))
				if dep != "" && !strings.EqualFold(dep, "none") {
					item.DependsOn = append(item.DependsOn, Slug(dep))
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// headingText extracts the plain text of a heading node.
func headingText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a heading title into a stable task id.
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStripRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
