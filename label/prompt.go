package label

import (
	"fmt"
	"strings"
)

const promptTemplate = `I'm building a curated database of feeds (RSS, Youtube, subreddit, etc) and I need your help.

I'm going to show you information about some feeds,
including data about where I got them, metadata taken from that original source,
and the content of some recent posts.

Your job is to look at the feed and write about it, to help readers decide what to read.
Act as a creative, professional critic and curator; your information should be short but compelling.

Respond with a JSON object containing a "labels" array with one entry per feed, in the same order as provided. Each entry has: feed_id (the FEED ID number from the input), nsfw, spam_or_junk, clean_title, clean_author, description, language, top_level_tags, detailed_tags, hidden_tags, keywords.

IMPORTANT: You MUST output information for EVERY feed I give you. Your array in the "labels" key MUST have exactly the same number of items as the input feeds.

Notes:
- Phrase your information in the third person; say "A blog about X" instead of "My blog about X".
- The input description of the feed may come from the author themselves. Deflate it if it's too promotional or self-aggrandizing.
- For super well-known feeds you can include your general knowledge about them in your description.
- You may ONLY use tags from the taxonomies provided below, at the matching granularity. Never invent your own tags.
- Apply ALL applicable tags from hidden_tags.
- If there is an author name in the original title of the blog (e.g. "BitBytes - Josh Jacobsen"), clean the title as "BitBytes" and set clean_author to Josh Jacobsen. Do not remove author names from clean_title if they're part of the main title, like "Paul's Blog".
- If "homepage" or "all" or other aggregate terms indicating that this is a feed are in the title, remove them.
- Don't assign top-level 'news' labels to news channels that are super niche or local; assign those the Local tag instead.

Here are the available sets of categories you must use:
[[CATEGORIES]]

And here are the feeds I want you to generate responses for:
[[FEEDS]]

Below, write your JSON response:`

// truncate collapses whitespace and caps text at maxLen runes for prompt
// inclusion.
func truncate(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// inputToText renders one feed as a prompt block under a numeric batch id.
func inputToText(in Input, id int) string {
	out := []string{fmt.Sprintf("FEED ID: %d", id)}
	out = append(out, "Title: "+in.Feed.Title)
	if in.FeedDescription != "" {
		out = append(out, "Feed Description: "+in.FeedDescription)
	}
	if in.Feed.Summary != "" {
		out = append(out, "Summary: "+in.Feed.Summary)
	}
	if in.Feed.Details != "" {
		out = append(out, "Details: "+in.Feed.Details)
	}
	if len(in.Items) > 0 {
		out = append(out, "", "Recent posts:")
		for i, item := range in.Items {
			if i >= 5 {
				break
			}
			out = append(out, "- "+truncate(item.Title, 128))
		}
	}
	return strings.Join(out, "\n")
}
