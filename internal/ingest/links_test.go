package ingest

import (
	"testing"
)

const linkPage = `<html><body>
<a href="/docs/getting-started">Getting started</a>
<a href="/docs/getting-started#install">Install section</a>
<a href="https://example.com/docs/api?utm_source=footer">API</a>
<a href="https://other.org/page">Elsewhere</a>
<a href="#top">Back to top</a>
<a href="">Empty</a>
<a href="https://example.com/">Self</a>
<img src="/static/diagram.png">
<img src="data:image/png;base64,AAAA">
<img srcset="/static/photo-small.jpg 480w, /static/photo-large.jpg 1024w">
</body></html>`

func TestDiscoverLinks(t *testing.T) {
	links := discoverLinks(parseDoc(t, linkPage), "https://example.com/")
	if len(links) != 3 {
		t.Fatalf("links: %+v", links)
	}

	if links[0].NormalizedURL != "https://example.com/docs/getting-started" {
		t.Fatalf("first link: %+v", links[0])
	}
	// A relative href must come back as an absolute URL so later fetches
	// of the link do not depend on the page it was found on.
	if links[0].URL != "https://example.com/docs/getting-started" {
		t.Fatalf("first link url not absolute: %+v", links[0])
	}
	if !links[0].SameDomain || links[0].Text != "Getting started" {
		t.Fatalf("first link: %+v", links[0])
	}
	// Fragment-only difference dedupes to the same normalised URL.
	if links[1].NormalizedURL != "https://example.com/docs/api" {
		t.Fatalf("second link: %+v", links[1])
	}
	if links[2].SameDomain {
		t.Fatalf("cross-domain flagged same: %+v", links[2])
	}
}

func TestDiscoverLinksSkipsSelf(t *testing.T) {
	links := discoverLinks(parseDoc(t, `<a href="https://example.com/page">here</a>`), "https://example.com/page")
	if len(links) != 0 {
		t.Fatalf("self link recorded: %+v", links)
	}
}

func TestDiscoverImageURLs(t *testing.T) {
	urls := discoverImageURLs(parseDoc(t, linkPage), "https://example.com/")
	want := []string{
		"https://example.com/static/diagram.png",
		"https://example.com/static/photo-small.jpg",
	}
	if len(urls) != len(want) {
		t.Fatalf("urls: %v", urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("urls: %v", urls)
		}
	}
}

func TestDiscoverLinksSubdomainIsSameDomain(t *testing.T) {
	links := discoverLinks(parseDoc(t, `<a href="https://docs.example.com/a">docs</a>`), "https://example.com/")
	if len(links) != 1 || !links[0].SameDomain {
		t.Fatalf("links: %+v", links)
	}
}
