package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssPayload = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <description>Posts about examples</description>
    <item>
      <title>Third post</title>
      <link>https://example.com/3</link>
      <description>Newest</description>
      <pubDate>Mon, 10 Mar 2025 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second post</title>
      <link>https://example.com/2</link>
      <description>Middle</description>
      <pubDate>Sat, 08 Mar 2025 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>First post</title>
      <link>https://example.com/1</link>
      <description>Oldest</description>
      <pubDate>Thu, 06 Mar 2025 12:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

const jsonFeedPayload = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON Example",
  "description": "A json feed",
  "items": [
    {"id": "1", "title": "Hello", "url": "https://example.com/hello", "date_published": "2025-03-10T12:00:00Z"},
    {"id": "2", "title": "World", "url": "https://example.com/world", "date_published": "2025-03-08T12:00:00Z"}
  ]
}`

func TestFetchRSS(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssPayload))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	content, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, "Example Blog", content.Title)
	assert.Equal(t, "Posts about examples", content.Description)
	require.Len(t, content.Items, 3)
	assert.Equal(t, "Third post", content.Items[0].Title)
	assert.Equal(t, "https://example.com/3", content.Items[0].URL)

	require.NotNil(t, content.LastPostDate)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), content.LastPostDate.UTC())

	// Gaps are 2 days and 2 days, so the median is 2 days.
	assert.Equal(t, 48*time.Hour, content.MedianPostInterval)
}

func TestFetchJSONFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/feed+json")
		w.Write([]byte(jsonFeedPayload))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	content, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "JSON Example", content.Title)
	require.Len(t, content.Items, 2)
	assert.Equal(t, "Hello", content.Items[0].Title)
	require.NotNil(t, content.LastPostDate)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestMedianIntervalUndatedFeed(t *testing.T) {
	assert.Equal(t, time.Duration(0), medianInterval(nil))
	assert.Equal(t, time.Duration(0), medianInterval([]time.Time{time.Now()}))
}
