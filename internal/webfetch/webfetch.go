package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is the raw payload of one fetched URL.
type Result struct {
	URL         string
	Body        []byte
	ContentType string
	Status      int
}

// Fetcher retrieves a URL after the host gate has admitted it.
type Fetcher interface {
	Fetch(ctx context.Context, url, accept string, maxBytes int64) (Result, error)
}

// TargetGate admits or rejects a fetch target before any request is
// issued. *policy.HostGate is the production implementation.
type TargetGate interface {
	CheckURL(ctx context.Context, raw string) error
}

// HTTPFetcher is the default fetcher: a plain GET with a size bound.
type HTTPFetcher struct {
	gate      TargetGate
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher builds a fetcher with the given timeout and user agent.
func NewHTTPFetcher(gate TargetGate, timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		gate:      gate,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url, accept string, maxBytes int64) (Result, error) {
	if err := f.gate.CheckURL(ctx, url); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Result{}, fmt.Errorf("page is not publicly accessible (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return Result{}, fmt.Errorf("fetched content exceeds size limit (%d bytes)", maxBytes)
	}

	return Result{
		URL:         url,
		Body:        body,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Status:      resp.StatusCode,
	}, nil
}
