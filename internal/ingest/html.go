package ingest

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// SplitHTML extracts heading-scoped text sections from an HTML
// document. Script, style, and head content is skipped; h1 through h3
// start a new section.
func SplitHTML(r io.Reader) ([]Section, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var sections []Section
	cur := Section{Key: "intro"}
	var body strings.Builder

	flush := func() {
		content := collapseSpace(body.String())
		if content != "" {
			cur.Body = content
			sections = append(sections, cur)
		}
		body.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "h1", "h2", "h3":
				flush()
				title := collapseSpace(nodeText(n))
				cur = Section{Key: slugify(title), Title: title}
				return
			}
		}
		if n.Type == html.TextNode {
			body.WriteString(n.Data)
			body.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()

	return sections, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
