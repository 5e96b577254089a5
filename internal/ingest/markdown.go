// Package ingest imports knowledge documents into the fact store so
// the agent can answer from clinic-specific material (price lists,
// care instructions, policies).
package ingest

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one heading-scoped chunk of a document.
type Section struct {
	Key   string // slug path, e.g. "treatments/whitening"
	Title string
	Body  string
}

// SplitMarkdown parses markdown and returns one section per heading,
// keyed by the slugified heading path. Content before the first
// heading is returned under the key "intro".
func SplitMarkdown(source []byte) []Section {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var sections []Section
	var titles [7]string // indexed by heading level
	cur := Section{Key: "intro"}
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content != "" {
			cur.Body = content
			sections = append(sections, cur)
		}
		body.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			title := string(h.Text(source))
			titles[h.Level] = title
			for l := h.Level + 1; l < len(titles); l++ {
				titles[l] = ""
			}
			cur = Section{Key: headingKey(titles[:h.Level+1]), Title: title}
			continue
		}
		body.WriteString(blockText(n, source))
		body.WriteString("\n")
	}
	flush()

	return sections
}

// blockText collects the raw source lines of a block node and its
// children. Lists and blockquotes only carry lines on their leaves.
func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	if n.Type() == ast.TypeBlock {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		b.WriteString(blockText(c, source))
	}
	return b.String()
}

// headingKey joins slugified heading titles into a path, skipping
// empty levels.
func headingKey(titles []string) string {
	var parts []string
	for _, t := range titles {
		if t == "" {
			continue
		}
		parts = append(parts, slugify(t))
	}
	if len(parts) == 0 {
		return "intro"
	}
	return strings.Join(parts, "/")
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify converts a heading to a key-friendly format.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
