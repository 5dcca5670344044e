// Package scraper downloads the FRITZ publication PDFs from the city website.
package scraper

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameRunes = 100

// Link is one downloadable publication found on the index page.
type Link struct {
	URL      string
	Title    string
	Size     string
	Filename string
}

// ExtractLinks returns anchors whose href points at a PDF and whose text
// contains "lesen" (the site's "read" button), in document order.
func ExtractLinks(base *url.URL, r io.Reader) ([]Link, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse publications page: %w", err)
	}

	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := linkFromAnchor(base, n); ok {
				links = append(links, link)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links, nil
}

func linkFromAnchor(base *url.URL, a *html.Node) (Link, bool) {
	href := attr(a, "href")
	if href == "" || !strings.Contains(strings.ToLower(href), ".pdf") {
		return Link{}, false
	}
	if !strings.Contains(strings.ToLower(textContent(a)), "lesen") {
		return Link{}, false
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return Link{}, false
	}
	full := ref
	if base != nil {
		full = base.ResolveReference(ref)
	}

	link := Link{
		URL:   full.String(),
		Title: documentTitle(a),
	}
	if next := a.NextSibling; next != nil && next.Type == html.TextNode && strings.Contains(next.Data, "(") {
		link.Size = strings.TrimSpace(next.Data)
	}
	link.Filename = GenerateFilename(link.Title, link.URL)
	return link, true
}

// documentTitle prefers the first <strong> inside the anchor's parent and
// falls back to the anchor text.
func documentTitle(a *html.Node) string {
	if a.Parent != nil {
		if strong := findFirst(a.Parent, atom.Strong); strong != nil {
			return strings.TrimSpace(textContent(strong))
		}
	}
	return strings.TrimSpace(textContent(a))
}

var filenameReplacer = strings.NewReplacer(
	" ", "_", "/", "_", `\`, "_", ":", "_", "*", "_",
	"?", "_", `"`, "_", "<", "_", ">", "_", "|", "_",
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
)

// GenerateFilename builds a filesystem-safe name from a publication title,
// or from the URL's last path segment when the title is empty or just "lesen".
func GenerateFilename(title, rawURL string) string {
	title = strings.TrimSpace(title)
	if title != "" && title != "lesen" {
		name := filenameReplacer.Replace(norm.NFC.String(title))
		name = truncateRunes(name, maxFilenameRunes)
		return ensurePDF(name)
	}

	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return ensurePDF(name)
}

func ensurePDF(name string) string {
	if strings.HasSuffix(name, ".pdf") {
		return name
	}
	return name + ".pdf"
}

func truncateRunes(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirst(n *html.Node, tag atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == tag {
			return c
		}
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
