// Package fetch retrieves live feed content (RSS, Atom, JSON Feed) and
// derives posting statistics used by the curation pipeline.
package fetch

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mmcdole/gofeed"
)

const defaultUserAgent = "Mozilla/5.0 (feeddb fetcher)"

// Item is one post from a feed.
type Item struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

// Content is a parsed feed plus derived statistics.
type Content struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Items       []Item `json:"items"`
	// LastPostDate is the newest item date seen, nil when the feed carries no
	// usable dates.
	LastPostDate *time.Time `json:"last_post_date,omitempty"`
	// MedianPostInterval is the median gap between consecutive posts; zero
	// when fewer than two dated items exist.
	MedianPostInterval time.Duration `json:"median_post_interval,omitempty"`
}

// Fetcher downloads and parses syndication feeds.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New returns a Fetcher with the given per-request timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch downloads and parses the feed at url. gofeed detects RSS, Atom and
// JSON Feed formats from the payload, so one path serves all feed kinds.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", url)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing feed at %s", url)
	}
	return buildContent(parsed), nil
}

func buildContent(parsed *gofeed.Feed) *Content {
	content := &Content{
		Title:       parsed.Title,
		Description: parsed.Description,
		Items:       make([]Item, 0, len(parsed.Items)),
	}

	var dates []time.Time
	for _, entry := range parsed.Items {
		item := Item{
			Title:       entry.Title,
			Description: entry.Description,
			URL:         entry.Link,
		}
		if item.Description == "" && entry.Content != "" {
			item.Description = entry.Content
		}
		date := entry.PublishedParsed
		if date == nil {
			date = entry.UpdatedParsed
		}
		if date != nil {
			item.Date = date
			dates = append(dates, *date)
		}
		content.Items = append(content.Items, item)
	}

	if len(dates) > 0 {
		last := dates[0]
		for _, d := range dates[1:] {
			if d.After(last) {
				last = d
			}
		}
		content.LastPostDate = &last
	}
	content.MedianPostInterval = medianInterval(dates)
	return content
}

// medianInterval computes the median gap between consecutive dated posts.
func medianInterval(dates []time.Time) time.Duration {
	if len(dates) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]time.Duration, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Sub(sorted[i-1]))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	mid := len(intervals) / 2
	if len(intervals)%2 == 1 {
		return intervals[mid]
	}
	return (intervals[mid-1] + intervals[mid]) / 2
}
