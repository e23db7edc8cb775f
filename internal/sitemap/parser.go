// Package sitemap parses sitemap documents into crawler.Document values.
//
// Two XML shapes are recognized regardless of namespace or prefix:
//
//	<sitemapindex><sitemap><loc>…</loc></sitemap>…</sitemapindex>  -> index of indices
//	<urlset><url><loc>…</loc></url>…</urlset>                      -> leaf set
//
// A plain-text sitemap (one absolute http(s) URL per line) is also read as a
// leaf set. Anything else is unrecognized, which callers treat as empty.
package sitemap

import (
	"bufio"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Parser implements crawler.Parser.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse classifies text and extracts its locators in document order.
func (Parser) Parse(text string) crawler.Document {
	return Parse(text)
}

// Parse classifies text and extracts its locators in document order.
func Parse(text string) crawler.Document {
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return crawler.Document{Kind: crawler.KindUnrecognized}
	}
	if doc, err := xmlquery.Parse(strings.NewReader(text)); err == nil {
		if root := firstElement(doc); root != nil {
			return fromXML(root)
		}
	}
	return fromText(text)
}

func fromXML(root *xmlquery.Node) crawler.Document {
	switch strings.ToLower(root.Data) {
	case "sitemapindex":
		return crawler.Document{Kind: crawler.KindIndexOfIndices, Entries: locs(root, "sitemap")}
	case "urlset":
		return crawler.Document{Kind: crawler.KindLeafSet, Entries: locs(root, "url")}
	default:
		return crawler.Document{Kind: crawler.KindUnrecognized}
	}
}

// locs returns the first <loc> of every item element directly under root. The
// loc's string value is its full inner text, so CDATA sections and nested
// text-bearing elements read the same as plain text.
func locs(root *xmlquery.Node, item string) []string {
	var out []string
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if !isElement(n, item) {
			continue
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !isElement(c, "loc") {
				continue
			}
			if v := strings.TrimSpace(c.InnerText()); v != "" {
				out = append(out, v)
			}
			break
		}
	}
	return out
}

func firstElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

func isElement(n *xmlquery.Node, name string) bool {
	return n.Type == xmlquery.ElementNode && strings.EqualFold(n.Data, name)
}

func fromText(text string) crawler.Document {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			return crawler.Document{Kind: crawler.KindUnrecognized}
		}
		out = append(out, line)
	}
	if scanner.Err() != nil || len(out) == 0 {
		return crawler.Document{Kind: crawler.KindUnrecognized}
	}
	return crawler.Document{Kind: crawler.KindLeafSet, Entries: out}
}
