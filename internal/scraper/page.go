package scraper

import (
	"bytes"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// antiBotMarkers are matched against the lowercased page text.
var antiBotMarkers = []string{
	"access denied",
	"blocked",
	"bot detection",
	"please verify you are human",
	"cloudflare",
	"captcha",
}

func isBlocked(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range antiBotMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// collapseWhitespace replaces runs of whitespace with a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// document is what one HTML response yields.
type document struct {
	title       string
	content     string
	description string
	keywords    string
	links       []*url.URL
}

// skipped elements never contribute to the fallback body text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Nav: true, atom.Header: true, atom.Footer: true, atom.Aside: true,
}

// parseHTML extracts links and meta tags with x/net/html, then the main
// text and title with readability. When readability finds nothing the
// visible body text is used.
func parseHTML(body []byte, base *url.URL) (document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return document{}, err
	}

	var doc document
	var htmlTitle, h1, ogTitle, ogDescription string
	var text strings.Builder

	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.A:
				if href := attr(n, "href"); href != "" {
					if u, err := base.Parse(href); err == nil {
						doc.links = append(doc.links, u)
					}
				}
			case atom.Meta:
				content := attr(n, "content")
				switch strings.ToLower(attr(n, "name")) {
				case "description":
					doc.description = content
				case "keywords":
					doc.keywords = content
				}
				switch strings.ToLower(attr(n, "property")) {
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDescription = content
				}
			case atom.Title:
				if htmlTitle == "" {
					htmlTitle = strings.TrimSpace(textOf(n))
				}
			case atom.H1:
				if h1 == "" {
					h1 = strings.TrimSpace(textOf(n))
				}
			}
			hidden = hidden || skipped[n.DataAtom] || n.DataAtom == atom.Head
		}
		if n.Type == html.TextNode && !hidden {
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(root, false)

	if doc.description == "" {
		doc.description = ogDescription
	}

	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err == nil {
		doc.content = collapseWhitespace(article.TextContent)
	}
	if doc.content == "" {
		doc.content = collapseWhitespace(text.String())
	}

	doc.title = firstNonEmpty(htmlTitle, h1, ogTitle, "No Title")
	return doc, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizeLink drops fragments so a page is fetched once.
func normalizeLink(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}
