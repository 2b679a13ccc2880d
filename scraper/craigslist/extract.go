package craigslist

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"merchant/models"
)

// ErrNoResults is returned for a page without a result list at all, which
// means the markup is not a listing page.
var ErrNoResults = errors.New("page has no result list")

var postDateLayouts = []string{
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// MalformedRow records an ad row dropped for a missing or bad field.
type MalformedRow struct {
	Index  int
	CID    string
	Reason string
}

func (m MalformedRow) String() string {
	return fmt.Sprintf("row %d (pid %q): %s", m.Index, m.CID, m.Reason)
}

// Extractor turns one listing page into raw listing records.
type Extractor struct {
	base     *url.URL
	area     string
	category string
}

// NewExtractor creates an Extractor that resolves links against baseURL and
// stamps area and category on every record.
func NewExtractor(baseURL, area, category string) (*Extractor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("extractor: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("extractor: base url %q is not absolute", baseURL)
	}
	return &Extractor{base: u, area: area, category: category}, nil
}

// Extract returns every valid ad row of page and the rows it dropped.
func (e *Extractor) Extract(page []byte) ([]*models.RawListing, []MalformedRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse page: %w", err)
	}

	list := doc.Find("ul.rows").First()
	if list.Length() == 0 {
		return nil, nil, ErrNoResults
	}

	var (
		listings  []*models.RawListing
		malformed []MalformedRow
	)
	list.Find("li.result-row").Each(func(i int, row *goquery.Selection) {
		l, reason := e.extractRow(row)
		if reason != "" {
			pid, _ := row.Attr("data-pid")
			malformed = append(malformed, MalformedRow{Index: i, CID: pid, Reason: reason})
			return
		}
		listings = append(listings, l)
	})

	return listings, malformed, nil
}

func (e *Extractor) extractRow(row *goquery.Selection) (*models.RawListing, string) {
	pid, ok := row.Attr("data-pid")
	if !ok || strings.TrimSpace(pid) == "" {
		return nil, "missing data-pid"
	}
	cid, err := strconv.ParseInt(strings.TrimSpace(pid), 10, 64)
	if err != nil || cid <= 0 {
		return nil, fmt.Sprintf("bad data-pid %q", pid)
	}

	priceEl := row.Find("span.result-price").First()
	if priceEl.Length() == 0 {
		return nil, "missing price"
	}
	price, err := ParsePrice(priceEl.Text())
	if err != nil {
		return nil, err.Error()
	}

	link := row.Find("a.result-title").First()
	title := normaliseText(link.Text())
	if title == "" {
		return nil, "missing title"
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, "missing url"
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Sprintf("bad url %q", href)
	}

	stamp, ok := row.Find("time").First().Attr("datetime")
	if !ok {
		return nil, "missing post date"
	}
	postedAt, err := parsePostDate(stamp)
	if err != nil {
		return nil, err.Error()
	}

	return &models.RawListing{
		CID:      cid,
		URL:      e.base.ResolveReference(ref).String(),
		Title:    title,
		Price:    price,
		Location: cleanLocation(row.Find("span.result-hood").First().Text()),
		Area:     e.area,
		Category: e.category,
		PostedAt: postedAt,
	}, ""
}

// ParsePrice parses a currency-prefixed ask such as "$1,200" into whole
// units.
func ParsePrice(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.Is(unicode.Sc, r) || unicode.IsSpace(r)
	})
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price %q", raw)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("non-numeric price %q", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative price %q", raw)
	}
	return n, nil
}

func parsePostDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range postDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad post date %q", raw)
}

// cleanLocation strips whitespace and the parentheses around a
// neighbourhood, e.g. " (downtown) " -> "downtown".
func cleanLocation(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "()")
	return normaliseText(s)
}

// TotalCount reads the total number of ads a category landing page
// reports.
func TotalCount(page []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return 0, fmt.Errorf("parse landing page: %w", err)
	}

	el := doc.Find("span.totalcount").First()
	if el.Length() == 0 {
		// An empty category renders the result list without a counter.
		if list := doc.Find("ul.rows"); list.Length() > 0 && list.Find("li.result-row").Length() == 0 {
			return 0, nil
		}
		return 0, errors.New("landing page has no total count")
	}

	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(el.Text()), ",", ""))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad total count %q", el.Text())
	}
	return n, nil
}

func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
