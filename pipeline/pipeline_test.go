package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feeddb/feeddb/embed"
	"github.com/feeddb/feeddb/feed"
	"github.com/feeddb/feeddb/fetch"
	"github.com/feeddb/feeddb/label"
	"github.com/feeddb/feeddb/logger"
)

var testTaxonomy = label.Taxonomy{
	TopLevel: []string{"Technology"},
	Detailed: []string{"Programming"},
	Hidden:   []string{"Local", "_conspiratorial", "_sensationalized"},
}

// fakeLLM answers any labeling prompt by parsing the FEED ID blocks out of
// it, so it works regardless of how the run batched the feeds. Feeds whose
// title contains "Spicy" are marked NSFW.
type fakeLLM struct{}

var feedBlockRe = regexp.MustCompile(`FEED ID: (\d+)\nTitle: ([^\n]*)`)

func (fakeLLM) CompleteJSON(ctx context.Context, prompt string, schema map[string]any) ([]byte, error) {
	var entries []map[string]any
	for _, match := range feedBlockRe.FindAllStringSubmatch(prompt, -1) {
		id, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, err
		}
		title := match[2]
		entries = append(entries, map[string]any{
			"feed_id":        id,
			"nsfw":           strings.Contains(title, "Spicy"),
			"spam_or_junk":   false,
			"clean_title":    strings.TrimSuffix(title, " Blog"),
			"description":    "A feed about " + title + ".",
			"language":       "en",
			"top_level_tags": []string{"Technology"},
			"detailed_tags":  []string{"Programming"},
			"hidden_tags":    []string{},
			"keywords":       []string{"test"},
		})
	}
	return json.Marshal(map[string]any{"labels": entries})
}

// feedServer serves a minimal RSS document per path with configurable post
// recency.
func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		age := 24 * time.Hour
		if strings.Contains(name, "stale") {
			age = 90 * 24 * time.Hour
		}
		first := time.Now().Add(-age)
		second := first.Add(-24 * time.Hour)
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel>
<title>%s</title><description>about %s</description>
<item><title>%s post one</title><pubDate>%s</pubDate></item>
<item><title>%s post two</title><pubDate>%s</pubDate></item>
</channel></rss>`,
			name, name,
			name, first.Format(time.RFC1123Z),
			name, second.Format(time.RFC1123Z))
	}))
}

func writeRawFeeds(t *testing.T, dir, source string, feeds []feed.Feed) {
	t.Helper()
	file, err := os.Create(filepath.Join(dir, source+".feeds.jsonl"))
	require.NoError(t, err)
	defer file.Close()
	for _, f := range feeds {
		buf, err := json.Marshal(f)
		require.NoError(t, err)
		_, err = file.Write(append(buf, '\n'))
		require.NoError(t, err)
	}
}

func testPipeline(t *testing.T, cfg Config, log logger.Logger) *Pipeline {
	t.Helper()
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0, 0}}})
	}))
	t.Cleanup(embedSrv.Close)

	embedder := embed.NewEmbedder()
	embedder.BaseURL = embedSrv.URL
	return &Pipeline{
		Config:   cfg,
		Log:      log,
		Fetcher:  fetch.New(5 * time.Second),
		Labeler:  label.NewLabeler(fakeLLM{}, testTaxonomy, log),
		Embedder: embedder,
	}
}

func TestRunEndToEnd(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	rawDir := t.TempDir()
	writeRawFeeds(t, rawDir, "directory", []feed.Feed{
		{ID: "alpha", Title: "Alpha Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/alpha"},
		{ID: "spicy", Title: "Spicy Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/spicy"},
		{ID: "stale", Title: "Stale Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/stale"},
		{ID: "bad", Title: "Broken", Kind: feed.KindFeed, FeedURL: "not a url"},
	})

	cfg := DefaultConfig()
	cfg.RawDir = rawDir
	cfg.CacheDir = ""
	cfg.FetchWorkers = 2
	log := logger.NewTestLogger()

	result, err := testPipeline(t, cfg, log).Run(context.Background())
	require.NoError(t, err)

	// "stale" falls to the recency filter, "spicy" to the NSFW filter and
	// "bad" to validation; only alpha survives.
	require.Len(t, result.Feeds, 1)
	alpha := result.Feeds["alpha"]
	assert.Equal(t, "Alpha", alpha.Feed.CleanedTitle)
	assert.Equal(t, "en", alpha.Feed.Language)
	assert.Contains(t, alpha.Feed.Tags, "Technology")
	require.NotNil(t, alpha.LastPostAge)
	assert.Less(t, *alpha.LastPostAge, 48*time.Hour)
	require.NotNil(t, alpha.PostsPerDay)
	assert.InDelta(t, 1.0, *alpha.PostsPerDay, 0.1)
	require.Len(t, alpha.Items, 2)

	assert.Equal(t, 1, result.Index.Len())
}

func TestRunCuratedSourceSurvivesNSFWFilter(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	rawDir := t.TempDir()
	writeRawFeeds(t, rawDir, "curated", []feed.Feed{
		{ID: "spicy", Title: "Spicy Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/spicy", Sources: []string{"curated"}},
	})

	cfg := DefaultConfig()
	cfg.RawDir = rawDir
	cfg.CacheDir = ""
	log := logger.NewTestLogger()

	result, err := testPipeline(t, cfg, log).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Feeds, 1)
	assert.Contains(t, result.Feeds, "spicy")
}

func TestRunUsesFileCaches(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	rawDir := t.TempDir()
	writeRawFeeds(t, rawDir, "directory", []feed.Feed{
		{ID: "alpha", Title: "Alpha Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/alpha"},
	})

	cfg := DefaultConfig()
	cfg.RawDir = rawDir
	cfg.CacheDir = t.TempDir()
	log := logger.NewTestLogger()
	p := testPipeline(t, cfg, log)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "feed_fetch_cache.db")
	assert.Contains(t, names, "feed_labels_cache.db")
	assert.Contains(t, names, "embed_cache.sqlite")

	// Second run resolves everything from cache.
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Feeds, 1)
}

func TestEnrichDegradesFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.CacheDir = ""
	log := logger.NewTestLogger()
	p := testPipeline(t, cfg, log)

	out, err := p.enrich(context.Background(), "dead", feed.Feed{
		Title: "Dead Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/dead",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Nil(t, out.LastPostAge)
	assert.True(t, log.Contains("error enriching feed"))
}

func TestContentDedupeMergesIdenticalContent(t *testing.T) {
	items := []fetch.Item{{Title: "Post one"}, {Title: "Post two"}}
	enriched := map[string]Enriched{
		"a": {Feed: feed.Feed{ID: "a", Title: "Mirror A", Sources: []string{"directory"}}, Items: items},
		"b": {Feed: feed.Feed{ID: "b", Title: "Mirror B", Sources: []string{"listing"}}, Items: items},
		"c": {Feed: feed.Feed{ID: "c", Title: "Distinct"}, Items: []fetch.Item{{Title: "Other"}}},
		"d": {Feed: feed.Feed{ID: "d", Title: "Empty"}},
	}

	cfg := DefaultConfig()
	log := logger.NewTestLogger()
	p := testPipeline(t, cfg, log)

	result := p.contentDedupe(log, enriched)
	require.Len(t, result, 3)
	assert.NotContains(t, result, "b")
	assert.Equal(t, []string{"directory", "listing"}, result["a"].Feed.Sources)
	assert.Contains(t, result, "c")
	assert.Contains(t, result, "d")
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RawDir = filepath.Join(t.TempDir(), "missing")
	cfg.CacheDir = ""
	log := logger.NewTestLogger()
	p := testPipeline(t, cfg, log)

	// The raw dir does not exist, so every attempt fails.
	_, err := p.Retry(context.Background(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 pipeline attempts failed")

	writeRawFeeds2 := func() {
		require.NoError(t, os.MkdirAll(cfg.RawDir, 0o755))
		writeRawFeeds(t, cfg.RawDir, "directory", []feed.Feed{
			{ID: "alpha", Title: "Alpha Blog", Kind: feed.KindFeed, FeedURL: srv.URL + "/alpha"},
		})
	}
	writeRawFeeds2()

	result, err := p.Retry(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, result.Feeds, 1)
}

func TestSampleFeedsDeterministic(t *testing.T) {
	feeds := make(map[string]feed.Feed)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("feed-%02d", i)
		feeds[id] = feed.Feed{ID: id}
	}
	first := sampleFeeds(feeds, 3)
	second := sampleFeeds(feeds, 3)
	require.Len(t, first, 3)
	assert.Equal(t, sortedIDs(first), sortedIDs(second))
}

func TestWriteJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "pipeline.jsonl")
	feeds := map[string]Enriched{
		"b": {Feed: feed.Feed{ID: "b", Title: "Second"}},
		"a": {Feed: feed.Feed{ID: "a", Title: "First"}},
	}
	require.NoError(t, WriteJSONL(path, feeds))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	require.Len(t, lines, 2)

	var first struct {
		ID   string    `json:"id"`
		Feed feed.Feed `json:"feed"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "First", first.Feed.Title)
}

func TestLoadRawLimitTo(t *testing.T) {
	dir := t.TempDir()
	writeRawFeeds(t, dir, "curated", []feed.Feed{{ID: "a", Title: "A"}})
	writeRawFeeds(t, dir, "directory", []feed.Feed{{ID: "b", Title: "B"}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	all, err := LoadRaw(dir, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	curated, err := LoadRaw(dir, []string{"curated"})
	require.NoError(t, err)
	require.Len(t, curated, 1)
	assert.Equal(t, "a", curated[0].ID)
}

func TestLoadRawBadLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.feeds.jsonl"), []byte("{not json}\n"), 0o644))
	_, err := LoadRaw(dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
