// Package widget adapts third-party payment and shipment provider snippets for server-side
// rendering and decodes the messages their embedded frames post back to the page.
package widget

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Script is a <script> element lifted out of a provider snippet.
type Script struct {
	Src   string
	Type  string
	Async bool
	Defer bool
	Body  string
}

// Snippet is provider markup with its scripts split off. Scripts are re-emitted after the markup so
// they execute once the markup they bind to exists.
type Snippet struct {
	Markup  template.HTML
	Scripts []Script
}

// Empty reports whether the snippet has neither markup nor scripts.
func (s Snippet) Empty() bool {
	return strings.TrimSpace(string(s.Markup)) == "" && len(s.Scripts) == 0
}

// Parse splits raw provider HTML into markup and scripts.
func Parse(raw string) (Snippet, error) {
	if strings.TrimSpace(raw) == "" {
		return Snippet{}, nil
	}
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(raw), context)
	if err != nil {
		return Snippet{}, fmt.Errorf("widget: parse snippet: %w", err)
	}

	var out Snippet
	var markup bytes.Buffer
	for _, n := range nodes {
		out.Scripts = append(out.Scripts, extractScripts(n)...)
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			continue
		}
		if err := html.Render(&markup, n); err != nil {
			return Snippet{}, fmt.Errorf("widget: render snippet: %w", err)
		}
	}
	out.Markup = template.HTML(markup.String())
	return out, nil
}

// HTML renders markup followed by freshly built script tags.
func (s Snippet) HTML() template.HTML {
	var buf bytes.Buffer
	buf.WriteString(string(s.Markup))
	for _, script := range s.Scripts {
		buf.WriteString(script.Tag())
	}
	return template.HTML(buf.String())
}

// Tag renders the script as an HTML element.
func (s Script) Tag() string {
	node := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
	if s.Src != "" {
		node.Attr = append(node.Attr, html.Attribute{Key: "src", Val: s.Src})
	}
	if s.Type != "" {
		node.Attr = append(node.Attr, html.Attribute{Key: "type", Val: s.Type})
	}
	if s.Async {
		node.Attr = append(node.Attr, html.Attribute{Key: "async"})
	}
	if s.Defer {
		node.Attr = append(node.Attr, html.Attribute{Key: "defer"})
	}
	if s.Body != "" {
		node.AppendChild(&html.Node{Type: html.TextNode, Data: s.Body})
	}
	var buf bytes.Buffer
	_ = html.Render(&buf, node)
	return buf.String()
}

// extractScripts removes script descendants of n (or n itself) in document order.
func extractScripts(n *html.Node) []Script {
	if n.Type == html.ElementNode && n.DataAtom == atom.Script {
		return []Script{toScript(n)}
	}
	var out []Script
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && c.DataAtom == atom.Script {
			out = append(out, toScript(c))
			n.RemoveChild(c)
		} else {
			out = append(out, extractScripts(c)...)
		}
		c = next
	}
	return out
}

func toScript(n *html.Node) Script {
	var s Script
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "src":
			s.Src = attr.Val
		case "type":
			s.Type = attr.Val
		case "async":
			s.Async = true
		case "defer":
			s.Defer = true
		}
	}
	var body strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			body.WriteString(c.Data)
		}
	}
	s.Body = body.String()
	return s
}
