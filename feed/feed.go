// Package feed defines the content-feed record shared across the pipeline
// and the metadata-level operations on it: canonical ids, syndication URLs,
// validation and deduplication.
package feed

import (
	"fmt"
	"time"
)

// Kind identifies where a feed's content lives.
type Kind string

const (
	KindFeed    Kind = "feed"
	KindReddit  Kind = "reddit"
	KindYouTube Kind = "youtube"
	KindBluesky Kind = "bluesky"
)

// FrequencyData captures posting-rate observations from a previous fetch.
type FrequencyData struct {
	FetchedDate time.Time  `json:"fetched_date"`
	PostsPerDay float64    `json:"posts_per_day"`
	LastPost    *time.Time `json:"last_post,omitempty"`
}

// Feed is a candidate entry in the curated database. Raw ingest sources fill
// the identity and locator fields; labeling fills the derived fields.
type Feed struct {
	ID string `json:"id"`

	Title           string   `json:"title"`
	Summary         string   `json:"summary,omitempty"`
	Kind            Kind     `json:"kind"`
	PopularityScore *float64 `json:"popularity_score,omitempty"`
	// Details holds contextual data from the ingest source, e.g. the blurb a
	// directory site showed next to the feed.
	Details string   `json:"details,omitempty"`
	Sources []string `json:"sources,omitempty"`

	// Derived by labeling.
	Tags          []string `json:"tags,omitempty"`
	Language      string   `json:"language,omitempty"`
	CleanedTitle  string   `json:"cleaned_title,omitempty"`
	CleanedAuthor string   `json:"cleaned_author,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`

	// Per-kind locators. Exactly one should be set.
	FeedURL      string `json:"feed_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Subreddit    string `json:"subreddit,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	BlueskyDID   string `json:"bluesky_did,omitempty"`

	LastFrequencyData *FrequencyData `json:"last_frequency_data,omitempty"`
}

// ProperID returns the canonical id for a feed based on its locator. Ids are
// stable across runs and independent of mutable content like titles.
func (f *Feed) ProperID() (string, error) {
	switch {
	case f.FeedURL != "":
		return "feed:" + f.FeedURL, nil
	case f.ChannelID != "":
		return "youtube:channel:" + f.ChannelID, nil
	case f.Subreddit != "":
		return "reddit:" + f.Subreddit, nil
	case f.BlueskyDID != "":
		return "bluesky:" + f.BlueskyDID, nil
	}
	return "", fmt.Errorf("feed %q has no locator", f.Title)
}

// SyndicationURL converts any feed kind into its fetchable RSS/Atom/JSON URL.
func (f *Feed) SyndicationURL() (string, error) {
	switch {
	case f.FeedURL != "":
		return f.FeedURL, nil
	case f.ChannelID != "":
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + f.ChannelID, nil
	case f.Subreddit != "":
		return "https://www.reddit.com/r/" + f.Subreddit + ".rss", nil
	case f.BlueskyDID != "":
		return "https://bsky.app/profile/" + f.BlueskyDID + "/rss", nil
	}
	return "", fmt.Errorf("feed %q has no locator", f.Title)
}
