package ingest

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/match9393/ContextForge/internal/helpers"
)

const maxDiscoveredLinks = 500

// DiscoveredLink is one outbound anchor found on an ingested web page.
type DiscoveredLink struct {
	URL           string
	NormalizedURL string
	Text          string
	SameDomain    bool
}

// discoverLinks collects anchors from the page, resolves them against
// pageURL and normalises them. Fragments, empty hrefs, self-references
// and duplicates (by normalised URL) are skipped; the result is capped.
func discoverLinks(root *html.Node, pageURL string) []DiscoveredLink {
	selfNormalized, err := helpers.NormalizeURL(pageURL)
	if err != nil {
		return nil
	}
	baseHost := helpers.HostOf(pageURL)

	seen := map[string]struct{}{selfNormalized: {}}
	var links []DiscoveredLink
	walkElements(root, "a", func(a *html.Node) {
		if len(links) >= maxDiscoveredLinks {
			return
		}
		href := strings.TrimSpace(attrValue(a, "href"))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		absolute, err := helpers.AbsoluteURL(pageURL, href)
		if err != nil {
			return
		}
		resolved, err := helpers.NormalizeURL(absolute)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, DiscoveredLink{
			URL:           absolute,
			NormalizedURL: resolved,
			Text:          truncateRunes(NormalizeText(nodeText(a)), 300),
			SameDomain:    helpers.SameDomain(baseHost, helpers.HostOf(resolved)),
		})
	})
	return links
}

// discoverImageURLs collects image source URLs from img tags, resolved
// against pageURL. data: and javascript: sources are ignored; srcset
// entries contribute their first candidate URL.
func discoverImageURLs(root *html.Node, pageURL string) []string {
	seen := map[string]struct{}{}
	var urls []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		lower := strings.ToLower(raw)
		if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
			return
		}
		resolved, err := helpers.ResolveRef(pageURL, raw)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	}

	walkElements(root, "img", func(img *html.Node) {
		add(attrValue(img, "src"))
		add(attrValue(img, "data-src"))
		if srcset := attrValue(img, "srcset"); srcset != "" {
			fields := strings.Fields(strings.Split(srcset, ",")[0])
			if len(fields) > 0 {
				add(fields[0])
			}
		}
	})
	return urls
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}
