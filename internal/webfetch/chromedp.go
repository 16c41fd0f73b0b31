package webfetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderedFetcher drives a headless browser so JavaScript-built pages
// yield their final DOM. Slower than HTTPFetcher; enabled by config.
type RenderedFetcher struct {
	gate      TargetGate
	timeout   time.Duration
	userAgent string
}

func NewRenderedFetcher(gate TargetGate, timeout time.Duration, userAgent string) *RenderedFetcher {
	return &RenderedFetcher{gate: gate, timeout: timeout, userAgent: userAgent}
}

func (f *RenderedFetcher) Fetch(ctx context.Context, url, accept string, maxBytes int64) (Result, error) {
	if err := f.gate.CheckURL(ctx, url); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Result{}, fmt.Errorf("render %s: %w", url, err)
	}
	if int64(len(html)) > maxBytes {
		return Result{}, fmt.Errorf("rendered content exceeds size limit (%d bytes)", maxBytes)
	}

	return Result{
		URL:         url,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		Status:      200,
	}, nil
}
