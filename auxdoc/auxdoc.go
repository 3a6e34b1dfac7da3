// CLAUDE:SUMMARY Auxiliary document helpers — HTML text/link extraction, sanitization, and the hidden audio playback page.
// Package auxdoc holds the helpers that back packet content handling: pure
// HTML processing used when serving generated pages, and the hidden browser
// page that actually plays narration audio.
package auxdoc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is an anchor extracted from a generated page.
type Link struct {
	URL   string
	Title string
}

// Processor bundles the HTML tooling so the converter and policy are built
// once.
type Processor struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// NewProcessor creates a Processor with the default conversion pipeline and
// a UGC sanitization policy.
func NewProcessor() *Processor {
	return &Processor{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// ExtractText converts a generated page to readable markdown-ish text,
// suitable for narration sources and search.
func (p *Processor) ExtractText(pageHTML, baseURL string) (string, error) {
	var opts []converter.ConvertOptionFunc
	if baseURL != "" {
		opts = append(opts, converter.WithDomain(baseURL))
	}
	out, err := p.md.ConvertString(pageHTML, opts...)
	if err != nil {
		return "", fmt.Errorf("auxdoc: convert html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Sanitize strips scripts and event handlers from generated HTML before it
// is handed to a browser page.
func (p *Processor) Sanitize(pageHTML []byte) []byte {
	return p.policy.SanitizeBytes(pageHTML)
}

// ExtractLinks returns the anchors of a page, absolutized against baseURL,
// in document order with duplicates removed.
func ExtractLinks(pageHTML, baseURL string) ([]Link, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("auxdoc: parse html: %w", err)
	}
	base, _ := url.Parse(baseURL)

	var links []Link
	seen := map[string]bool{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.A:
				if href := attr(n, "href"); href != "" {
					abs := absolutize(base, href)
					if abs != "" && !seen[abs] {
						seen[abs] = true
						links = append(links, Link{URL: abs, Title: nodeText(n)})
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// PageTitle returns the <title> text of a page, empty when absent.
func PageTitle(pageHTML string) string {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
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
	return strings.TrimSpace(b.String())
}

func absolutize(base *url.URL, href string) string {
	if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
