package feed

import (
	"net/url"
	"strings"

	"github.com/feeddb/feeddb/logger"
)

// Validate filters out feeds whose locators are missing or malformed,
// logging per-reason counts so bad ingest batches are easy to spot.
func Validate(log logger.Logger, feeds []Feed) []Feed {
	valid := make([]Feed, 0, len(feeds))
	reasons := map[string]int{}

	for _, f := range feeds {
		if reason := validationFailure(&f); reason != "" {
			reasons[reason]++
			continue
		}
		valid = append(valid, f)
	}

	log.Info("validation complete: %d valid feeds, %d invalid feeds", len(valid), len(feeds)-len(valid))
	for reason, count := range reasons {
		log.Debug("  - %s: %d feeds", reason, count)
	}
	return valid
}

func validationFailure(f *Feed) string {
	switch f.Kind {
	case KindFeed:
		if f.FeedURL == "" {
			return "missing_url"
		}
		if strings.Contains(f.FeedURL, " ") {
			return "contains_spaces"
		}
		parsed, err := url.Parse(f.FeedURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "malformed_url"
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "invalid_scheme"
		}
	case KindYouTube:
		if f.ChannelID == "" {
			return "missing_required_field"
		}
		if strings.Contains(f.ChannelID, " ") {
			return "contains_spaces"
		}
	case KindReddit:
		if f.Subreddit == "" {
			return "missing_required_field"
		}
		if strings.Contains(f.Subreddit, " ") {
			return "contains_spaces"
		}
	case KindBluesky:
		if f.BlueskyDID == "" {
			return "missing_required_field"
		}
		if strings.Contains(f.BlueskyDID, " ") {
			return "contains_spaces"
		}
	}
	return ""
}
