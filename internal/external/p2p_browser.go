package external

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
)

// BrowserCapturer drives a headless Chrome to the marketplace page and
// records the first matching outgoing request.
type BrowserCapturer struct {
	Headless bool
	Settle   time.Duration // minimum wait after the load event
	Idle     time.Duration // max wait for network idle or the search request
	Timeout  time.Duration // hard cap on the whole browser session
	Logger   logrus.FieldLogger
}

func NewBrowserCapturer(headless bool, settle time.Duration, logger logrus.FieldLogger) *BrowserCapturer {
	return &BrowserCapturer{
		Headless: headless,
		Settle:   settle,
		Idle:     30 * time.Second,
		Timeout:  60 * time.Second,
		Logger:   logger,
	}
}

func (b *BrowserCapturer) Capture(ctx context.Context, pageURL, match string) (*CapturedRequest, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.UserAgent(httputil.BrowserUserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, b.Timeout)
	defer cancelTimeout()

	var (
		mu       sync.Mutex
		captured *CapturedRequest
		found    = make(chan struct{}, 1)
		idle     = make(chan struct{}, 1)
	)
	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == "networkIdle" {
				signal(idle)
			}
		case *network.EventRequestWillBeSent:
			if e.Request == nil || e.Request.Method != http.MethodPost || !strings.Contains(e.Request.URL, match) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if captured != nil {
				return
			}
			captured = &CapturedRequest{
				URL:     e.Request.URL,
				Method:  e.Request.Method,
				Headers: flattenHeaders(e.Request.Headers),
				Body:    postBody(e.Request),
			}
			signal(found)
		}
	})

	var cookies []*network.Cookie
	err := chromedp.Run(browserCtx,
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(pageURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForSearch(ctx, b.Settle, b.Idle, found, idle)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			urls := []string{pageURL}
			mu.Lock()
			if captured != nil {
				urls = append(urls, captured.URL)
			}
			mu.Unlock()
			var err error
			cookies, err = network.GetCookies().WithUrls(urls).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("browser session: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if captured == nil {
		return nil, ErrSearchNotCaptured
	}
	for _, c := range cookies {
		captured.Cookies = append(captured.Cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	if b.Logger != nil {
		b.Logger.Debugf("Captured %s %s (%d headers, %d cookies)", captured.Method, captured.URL, len(captured.Headers), len(captured.Cookies))
	}
	return captured, nil
}

// waitForSearch blocks for at least settle, then until the search request
// has been seen, the page reports network idle, or limit runs out. Running
// out of limit is not an error: the caller decides from what was captured.
func waitForSearch(ctx context.Context, settle, limit time.Duration, found, idle <-chan struct{}) error {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	floor := time.NewTimer(settle)
	defer floor.Stop()
	select {
	case <-floor.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-found:
	case <-idle:
	case <-deadline.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func flattenHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func postBody(r *network.Request) []byte {
	var sb strings.Builder
	for _, entry := range r.PostDataEntries {
		if entry == nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			sb.WriteString(entry.Bytes)
			continue
		}
		sb.Write(raw)
	}
	return []byte(sb.String())
}
