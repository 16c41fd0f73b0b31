package ingest

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// WebExtraction is everything lifted out of one fetched web page.
type WebExtraction struct {
	Title     string
	Text      string
	Tables    []htmlTable
	Links     []DiscoveredLink
	ImageURLs []string
}

// extractWebContent decodes the page per its Content-Type charset and
// pulls out narrative text, tables, outbound links and image URLs.
// Tables are removed from the tree before readability runs so tabular
// data only enters the corpus through table chunks.
func extractWebContent(body []byte, contentType, pageURL string) (WebExtraction, error) {
	if strings.HasPrefix(contentType, "text/plain") {
		decoded, err := decodeCharset(body, contentType)
		if err != nil {
			return WebExtraction{}, err
		}
		return WebExtraction{Text: NormalizeText(string(decoded))}, nil
	}

	decoded, err := decodeCharset(body, contentType)
	if err != nil {
		return WebExtraction{}, err
	}
	root, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return WebExtraction{}, fmt.Errorf("parse html: %w", err)
	}

	out := WebExtraction{
		Tables:    extractTables(root),
		Links:     discoverLinks(root, pageURL),
		ImageURLs: discoverImageURLs(root, pageURL),
	}

	removeElements(root, "table")
	removeElements(root, "script")
	removeElements(root, "style")

	var rendered bytes.Buffer
	if err := html.Render(&rendered, root); err != nil {
		return WebExtraction{}, fmt.Errorf("render html: %w", err)
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(&rendered, parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		out.Title = strings.TrimSpace(article.Title)
		out.Text = NormalizeText(article.TextContent)
	} else {
		// Readability gives up on sparse pages; fall back to raw body text.
		out.Text = NormalizeText(nodeText(root))
	}
	if out.Title == "" {
		out.Title = pageTitle(root)
	}
	return out, nil
}

func decodeCharset(body []byte, contentType string) ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("charset decode: %w", err)
	}
	return io.ReadAll(reader)
}

func removeElements(n *html.Node, tag string) {
	var doomed []*html.Node
	walkElements(n, tag, func(node *html.Node) {
		doomed = append(doomed, node)
	})
	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func pageTitle(root *html.Node) string {
	title := ""
	walkElements(root, "title", func(node *html.Node) {
		if title == "" {
			title = NormalizeText(nodeText(node))
		}
	})
	return title
}
