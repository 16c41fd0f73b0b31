package crawl

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsCache fetches and caches robots.txt per origin. Unreachable or
// missing robots files are treated as permissive.
type RobotsCache struct {
	client    *http.Client
	userAgent string

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

func NewRobotsCache(timeout time.Duration, userAgent string) *RobotsCache {
	return &RobotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		cache:     map[string]*robotstxt.RobotsData{},
	}
}

func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	origin := parsed.Scheme + "://" + parsed.Host

	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()

	if !ok {
		data = r.fetch(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
	}
	if data == nil {
		return true
	}
	return data.FindGroup(r.userAgent).Test(parsed.Path)
}

func (r *RobotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, "GET", origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}
