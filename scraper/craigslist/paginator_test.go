package craigslist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"merchant/config"
	"merchant/utils"
)

const testBase = "https://littlerock.craigslist.org"

func TestPageCount(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, 0},
		{-3, 0},
		{1, 1},
		{119, 1},
		{120, 1},
		{121, 2},
		{240, 2},
		{241, 3},
	}
	for _, tt := range tests {
		if got := PageCount(tt.total); got != tt.want {
			t.Errorf("PageCount(%d) = %d; want %d", tt.total, got, tt.want)
		}
	}
}

// fakeSite serves canned pages by URL and records every request.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]error
	requests []string
}

func (s *fakeSite) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.requests = append(s.requests, url)
	s.mu.Unlock()

	if err := s.failures[url]; err != nil {
		return nil, err
	}
	page, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return []byte(page), nil
}

// resultPage renders rows for cids [from, to).
func resultPage(total, from, to int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><span class="totalcount">%d</span><ul class="rows">`, total)
	for cid := from; cid < to; cid++ {
		fmt.Fprintf(&b, `<li class="result-row" data-pid="%d"><p class="result-info">`+
			`<time class="result-date" datetime="2019-03-02 14:05">Mar 2</time>`+
			`<a href="/bia/%d.html" class="result-title hdrlnk">bike number %d</a>`+
			`<span class="result-meta"><span class="result-price">$%d</span></span></p></li>`,
			cid, cid, cid, cid%500)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func testCodes(t *testing.T) *config.CategoryCodes {
	t.Helper()
	cc, err := config.ParseCategoryCodes([]byte("version: 1\ncategories:\n  - {name: bicycles, path: /search/bia}\n"))
	if err != nil {
		t.Fatal(err)
	}
	return cc
}

func newTestPaginator(t *testing.T, f *fakeSite) *Paginator {
	cfg := &config.Config{BaseURL: testBase, Area: "littlerock", MaxConcurrency: 4}
	return NewPaginator(cfg, testCodes(t), f, utils.NewDiscardLogger())
}

func TestScrapeCategoryIsolatesPageFailure(t *testing.T) {
	landing := testBase + "/search/bia"
	site := &fakeSite{
		pages: map[string]string{
			landing:            resultPage(150, 1, 121),
			landing + "?s=0":   resultPage(150, 1, 121),
			landing + "?s=120": resultPage(150, 121, 151),
		},
		failures: map[string]error{
			landing + "?s=120": errors.New("connection reset by peer"),
		},
	}

	res, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "bicycles")
	if err != nil {
		t.Fatalf("ScrapeCategory: %v", err)
	}

	if res.TotalCount != 150 {
		t.Errorf("TotalCount: got %d, want 150", res.TotalCount)
	}
	if res.PageCount() != 2 {
		t.Errorf("PageCount: got %d, want 2", res.PageCount())
	}
	if len(res.Failures) != 1 || res.Failures[0].Number != 2 || res.Failures[0].Offset != 120 {
		t.Fatalf("Failures: got %+v, want page 2 at offset 120", res.Failures)
	}
	if got := len(res.Listings()); got != 120 {
		t.Errorf("Listings: got %d, want 120 (page 1 only)", got)
	}
	if len(site.requests) != 3 {
		t.Errorf("requests: got %d (%v), want landing + 2 pages", len(site.requests), site.requests)
	}
}

func TestScrapeCategoryKeepsPageOrder(t *testing.T) {
	landing := testBase + "/search/bia"
	site := &fakeSite{pages: map[string]string{
		landing:            resultPage(250, 1, 2),
		landing + "?s=0":   resultPage(250, 1, 121),
		landing + "?s=120": resultPage(250, 121, 241),
		// The last page repeats an ad that moved down while paging.
		landing + "?s=240": resultPage(250, 240, 251),
	}}

	res, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "bicycles")
	if err != nil {
		t.Fatalf("ScrapeCategory: %v", err)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("pages: got %d, want 3", len(res.Pages))
	}
	for i, p := range res.Pages {
		if p.Number != i+1 || p.Offset != i*PageSize {
			t.Errorf("page %d: got number %d offset %d", i, p.Number, p.Offset)
		}
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates: got %d, want 1", res.Duplicates)
	}

	listings := res.Listings()
	if len(listings) != 250 {
		t.Fatalf("listings: got %d, want 250", len(listings))
	}
	for i, l := range listings {
		if l.CID != int64(i+1) {
			t.Fatalf("listing %d: cid %d, want %d", i, l.CID, i+1)
		}
	}
}

func TestScrapeCategoryCountsMalformedRows(t *testing.T) {
	landing := testBase + "/search/bia"
	page := strings.Replace(resultPage(3, 1, 4), `<span class="result-price">$2</span>`, ``, 1)
	site := &fakeSite{pages: map[string]string{landing: page, landing + "?s=0": page}}

	res, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "bicycles")
	if err != nil {
		t.Fatalf("ScrapeCategory: %v", err)
	}
	if res.MalformedCount() != 1 {
		t.Errorf("MalformedCount: got %d, want 1", res.MalformedCount())
	}
	if len(res.Listings()) != 2 {
		t.Errorf("Listings: got %d, want 2", len(res.Listings()))
	}
}

func TestScrapeCategoryUnknown(t *testing.T) {
	site := &fakeSite{}
	_, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "boats")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("err: got %v, want ErrUnknownCategory", err)
	}
	if len(site.requests) != 0 {
		t.Errorf("unknown category should not fetch, got %v", site.requests)
	}
}

func TestScrapeCategoryLandingFailure(t *testing.T) {
	site := &fakeSite{}
	if _, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "bicycles"); err == nil {
		t.Error("expected error when the landing page cannot be fetched")
	}
}

func TestScrapeCategoryEmpty(t *testing.T) {
	landing := testBase + "/search/bia"
	site := &fakeSite{pages: map[string]string{landing: `<ul class="rows"></ul>`}}

	res, err := newTestPaginator(t, site).ScrapeCategory(context.Background(), "bicycles")
	if err != nil {
		t.Fatalf("ScrapeCategory: %v", err)
	}
	if res.PageCount() != 0 || len(res.Listings()) != 0 {
		t.Errorf("empty category: got %d pages, %d listings", res.PageCount(), len(res.Listings()))
	}
}

func TestScrapeCategoryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	landing := testBase + "/search/bia"
	site := &fakeSite{pages: map[string]string{landing: resultPage(360, 1, 2)}}

	// Cancel as soon as the landing page has been served.
	fetcher := fetchFunc(func(c context.Context, url string) ([]byte, error) {
		b, err := site.Fetch(c, url)
		if url == landing {
			cancel()
		}
		return b, err
	})

	cfg := &config.Config{BaseURL: testBase, MaxConcurrency: 1}
	p := NewPaginator(cfg, testCodes(t), fetcher, utils.NewDiscardLogger())
	res, err := p.ScrapeCategory(ctx, "bicycles")
	if err != nil {
		t.Fatalf("ScrapeCategory: %v", err)
	}
	if len(res.Failures) != 3 {
		t.Errorf("Failures: got %d, want all 3 pages unfetched", len(res.Failures))
	}
	for _, f := range res.Failures {
		if !errors.Is(f.Err, context.Canceled) {
			t.Errorf("page %d: err %v, want context.Canceled", f.Number, f.Err)
		}
	}
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func TestStreamCategoryEmitsInPageOrder(t *testing.T) {
	landing := testBase + "/search/bia"
	lastServed := make(chan struct{})
	pages := map[string]string{
		landing:            resultPage(360, 1, 121),
		landing + "?s=0":   resultPage(360, 1, 121),
		landing + "?s=120": resultPage(360, 121, 241),
		landing + "?s=240": resultPage(360, 241, 361),
	}

	// Page 1 finishes last.
	fetcher := fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		switch url {
		case landing + "?s=0":
			select {
			case <-lastServed:
			case <-time.After(5 * time.Second):
			}
		case landing + "?s=240":
			defer close(lastServed)
		}
		return []byte(pages[url]), nil
	})

	cfg := &config.Config{BaseURL: testBase, MaxConcurrency: 4}
	p := NewPaginator(cfg, testCodes(t), fetcher, utils.NewDiscardLogger())

	var got []int
	res, err := p.StreamCategory(context.Background(), "bicycles", func(_ context.Context, page PageResult) error {
		got = append(got, page.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamCategory: %v", err)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("emitted pages: got %v, want [1 2 3]", got)
	}
	if len(res.Pages) != 3 || len(res.Listings()) != 360 {
		t.Errorf("scrape: got %d pages, %d listings", len(res.Pages), len(res.Listings()))
	}
}

func TestStreamCategoryEmitErrorStops(t *testing.T) {
	landing := testBase + "/search/bia"
	site := &fakeSite{pages: map[string]string{
		landing:            resultPage(360, 1, 121),
		landing + "?s=0":   resultPage(360, 1, 121),
		landing + "?s=120": resultPage(360, 121, 241),
		landing + "?s=240": resultPage(360, 241, 361),
	}}
	cfg := &config.Config{BaseURL: testBase, MaxConcurrency: 1}
	p := NewPaginator(cfg, testCodes(t), site, utils.NewDiscardLogger())

	errFull := errors.New("disk full")
	calls := 0
	res, err := p.StreamCategory(context.Background(), "bicycles", func(context.Context, PageResult) error {
		calls++
		return errFull
	})
	if !errors.Is(err, errFull) {
		t.Fatalf("got %v, want the emit error", err)
	}
	if res == nil {
		t.Fatal("no partial scrape returned")
	}
	if calls != 1 {
		t.Errorf("emit called %d times after failing, want 1", calls)
	}
	if res.PageCount() != 3 {
		t.Errorf("PageCount: got %d, want every page accounted for", res.PageCount())
	}
}
