package feed

import (
	"sort"

	"github.com/feeddb/feeddb/logger"
)

// Merge combines two records for the same underlying feed. The primary wins
// for scalar fields (secondary only fills gaps); array fields are unioned.
func Merge(primary, secondary Feed) Feed {
	result := primary

	result.Sources = unionStrings(primary.Sources, secondary.Sources)
	result.Tags = unionStrings(primary.Tags, secondary.Tags)

	if result.Summary == "" {
		result.Summary = secondary.Summary
	}
	if result.PopularityScore == nil {
		result.PopularityScore = secondary.PopularityScore
	}
	if result.Details == "" {
		result.Details = secondary.Details
	}
	if result.Language == "" {
		result.Language = secondary.Language
	}
	if result.CleanedTitle == "" {
		result.CleanedTitle = secondary.CleanedTitle
	}
	if result.CleanedAuthor == "" {
		result.CleanedAuthor = secondary.CleanedAuthor
	}
	if result.ThumbnailURL == "" {
		result.ThumbnailURL = secondary.ThumbnailURL
	}
	return result
}

func unionStrings(a, b []string) []string {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SimpleDedupe merges feeds that share a locator (URL, subreddit, channel or
// DID). The first feed seen for a locator stays primary; later duplicates are
// merged into it. Iteration over ids is sorted so merges are deterministic.
func SimpleDedupe(log logger.Logger, feeds map[string]Feed) map[string]Feed {
	result := make(map[string]Feed, len(feeds))
	urlMap := map[string]string{}
	subredditMap := map[string]string{}
	youtubeMap := map[string]string{}
	blueskyMap := map[string]string{}

	ids := make([]string, 0, len(feeds))
	for id := range feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		f := feeds[id]
		var locator string
		var index map[string]string
		switch {
		case f.FeedURL != "":
			locator, index = f.FeedURL, urlMap
		case f.Subreddit != "":
			locator, index = f.Subreddit, subredditMap
		case f.ChannelID != "":
			locator, index = f.ChannelID, youtubeMap
		case f.BlueskyDID != "":
			locator, index = f.BlueskyDID, blueskyMap
		default:
			result[id] = f
			continue
		}
		if primaryID, seen := index[locator]; seen {
			result[primaryID] = Merge(result[primaryID], f)
			continue
		}
		index[locator] = id
		result[id] = f
	}

	log.Info("simple dedupe: %d -> %d feeds", len(feeds), len(result))
	return result
}
