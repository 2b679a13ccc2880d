package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"merchant/utils"
)

// BrowserFetcher renders pages in headless Chrome and returns the
// resulting document HTML. One browser process is shared by all fetches.
type BrowserFetcher struct {
	chromeBin string
	userAgent string
	logger    *utils.Logger
	timeout   time.Duration

	once        sync.Once
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewBrowserFetcher creates a BrowserFetcher. The browser is started on the
// first Fetch.
func NewBrowserFetcher(chromeBin, userAgent string, logger *utils.Logger) *BrowserFetcher {
	return &BrowserFetcher{
		chromeBin: chromeBin,
		userAgent: userAgent,
		logger:    logger,
		timeout:   60 * time.Second,
	}
}

// binary returns the configured Chrome path, or a discovered one.
func (f *BrowserFetcher) binary() string {
	if f.chromeBin != "" {
		return f.chromeBin
	}
	return findChromeBinary()
}

func (f *BrowserFetcher) start() {
	chromeBin := f.binary()
	f.logger.Info("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	f.browserCtx = browserCtx
	f.cancelAlloc = cancelAlloc
	f.cancelTab = cancelTab
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.once.Do(f.start)

	tabCtx, cancel := chromedp.NewContext(f.browserCtx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chromedp %s: %w", url, err)
	}
	return []byte(html), nil
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	if f.cancelTab != nil {
		f.cancelTab()
	}
	if f.cancelAlloc != nil {
		f.cancelAlloc()
	}
	return nil
}

// findChromeBinary locates a Chrome/Chromium binary on PATH or in the usual
// install locations.
func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
