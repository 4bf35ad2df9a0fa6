package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feeddb/feeddb/logger"
)

func TestProperID(t *testing.T) {
	f := Feed{Kind: KindFeed, FeedURL: "https://example.com/rss"}
	id, err := f.ProperID()
	require.NoError(t, err)
	assert.Equal(t, "feed:https://example.com/rss", id)

	f = Feed{Kind: KindYouTube, ChannelID: "UC123"}
	id, err = f.ProperID()
	require.NoError(t, err)
	assert.Equal(t, "youtube:channel:UC123", id)

	f = Feed{Kind: KindReddit, Subreddit: "golang"}
	id, err = f.ProperID()
	require.NoError(t, err)
	assert.Equal(t, "reddit:golang", id)

	f = Feed{Kind: KindBluesky, BlueskyDID: "did:plc:abc"}
	id, err = f.ProperID()
	require.NoError(t, err)
	assert.Equal(t, "bluesky:did:plc:abc", id)

	f = Feed{Title: "nothing"}
	_, err = f.ProperID()
	assert.Error(t, err)
}

func TestSyndicationURL(t *testing.T) {
	f := Feed{Kind: KindYouTube, ChannelID: "UC123"}
	url, err := f.SyndicationURL()
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UC123", url)

	f = Feed{Kind: KindReddit, Subreddit: "golang"}
	url, err = f.SyndicationURL()
	require.NoError(t, err)
	assert.Equal(t, "https://www.reddit.com/r/golang.rss", url)

	f = Feed{Kind: KindBluesky, BlueskyDID: "did:plc:abc"}
	url, err = f.SyndicationURL()
	require.NoError(t, err)
	assert.Equal(t, "https://bsky.app/profile/did:plc:abc/rss", url)
}

func TestValidate(t *testing.T) {
	log := logger.NewTestLogger()
	feeds := []Feed{
		{Kind: KindFeed, Title: "good", FeedURL: "https://example.com/rss"},
		{Kind: KindFeed, Title: "no url"},
		{Kind: KindFeed, Title: "spaces", FeedURL: "https://example.com/my feed"},
		{Kind: KindFeed, Title: "bad scheme", FeedURL: "ftp://example.com/rss"},
		{Kind: KindFeed, Title: "malformed", FeedURL: "not-a-url"},
		{Kind: KindYouTube, Title: "good yt", ChannelID: "UC123"},
		{Kind: KindYouTube, Title: "no channel"},
		{Kind: KindReddit, Title: "good sub", Subreddit: "golang"},
		{Kind: KindBluesky, Title: "bad did", BlueskyDID: "did with space"},
	}

	valid := Validate(log, feeds)
	titles := make([]string, 0, len(valid))
	for _, f := range valid {
		titles = append(titles, f.Title)
	}
	assert.ElementsMatch(t, []string{"good", "good yt", "good sub"}, titles)
}

func TestMergePrimaryWins(t *testing.T) {
	score := 0.8
	primary := Feed{
		Title:   "Primary",
		Summary: "primary summary",
		Sources: []string{"curated"},
		Tags:    []string{"tech"},
	}
	secondary := Feed{
		Title:           "Secondary",
		Summary:         "secondary summary",
		PopularityScore: &score,
		Sources:         []string{"ooh_directory"},
		Tags:            []string{"tech", "programming"},
		ThumbnailURL:    "https://example.com/thumb.png",
	}

	merged := Merge(primary, secondary)
	assert.Equal(t, "Primary", merged.Title)
	assert.Equal(t, "primary summary", merged.Summary)
	assert.Equal(t, &score, merged.PopularityScore)
	assert.Equal(t, "https://example.com/thumb.png", merged.ThumbnailURL)
	assert.Equal(t, []string{"curated", "ooh_directory"}, merged.Sources)
	assert.Equal(t, []string{"programming", "tech"}, merged.Tags)
}

func TestSimpleDedupe(t *testing.T) {
	log := logger.NewTestLogger()
	feeds := map[string]Feed{
		"a": {Title: "First", Kind: KindFeed, FeedURL: "https://example.com/rss", Sources: []string{"s1"}},
		"b": {Title: "Second", Kind: KindFeed, FeedURL: "https://example.com/rss", Sources: []string{"s2"}},
		"c": {Title: "Other", Kind: KindReddit, Subreddit: "golang"},
	}

	result := SimpleDedupe(log, feeds)
	require.Len(t, result, 2)
	merged, ok := result["a"]
	require.True(t, ok, "first id sorted order stays primary")
	assert.Equal(t, "First", merged.Title)
	assert.Equal(t, []string{"s1", "s2"}, merged.Sources)
	_, ok = result["c"]
	assert.True(t, ok)
}
