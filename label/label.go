// Package label enriches feeds with LLM-generated curation metadata: cleaned
// titles, descriptions, language and tags drawn from a fixed taxonomy.
package label

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/feeddb/feeddb/feed"
	"github.com/feeddb/feeddb/fetch"
	"github.com/feeddb/feeddb/logger"
)

// Input is the slice of an enriched feed the labeler needs.
type Input struct {
	Feed            feed.Feed    `json:"feed"`
	FeedDescription string       `json:"feed_description,omitempty"`
	Items           []fetch.Item `json:"items"`
}

// Labels is the curation metadata produced for one feed.
type Labels struct {
	NSFW        bool   `json:"nsfw"`
	SpamOrJunk  bool   `json:"spam_or_junk"`
	CleanTitle  string `json:"clean_title"`
	CleanAuthor string `json:"clean_author,omitempty"`
	Description string `json:"description"`
	// Language is an ISO 639-1 code like "en" or "fr".
	Language     string   `json:"language"`
	TopLevelTags []string `json:"top_level_tags"`
	DetailedTags []string `json:"detailed_tags"`
	HiddenTags   []string `json:"hidden_tags"`
	Keywords     []string `json:"keywords"`
}

// Labeler batches feeds into LLM calls and validates the responses.
type Labeler struct {
	client   Client
	taxonomy Taxonomy
	log      logger.Logger
}

func NewLabeler(client Client, taxonomy Taxonomy, log logger.Logger) *Labeler {
	return &Labeler{
		client:   client,
		taxonomy: taxonomy,
		log:      log.WithPrefix("[label]"),
	}
}

type labelEntry struct {
	FeedID *int `json:"feed_id"`
	Labels
}

// BatchLabel labels a batch of feeds in one LLM call. It assigns each feed a
// zero-based numeric id for the prompt, validates the response covers every
// id exactly once, filters tags to the taxonomy, and maps results back to the
// original ids. It satisfies cachedmap.BatchFunc.
func (l *Labeler) BatchLabel(ctx context.Context, batch map[string]Input) (map[string]Labels, error) {
	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	texts := make([]string, 0, len(ids))
	for i, id := range ids {
		texts = append(texts, inputToText(batch[id], i))
	}

	categories, err := json.MarshalIndent(l.taxonomy, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := promptTemplate
	prompt = strings.Replace(prompt, "[[CATEGORIES]]", string(categories), 1)
	prompt = strings.Replace(prompt, "[[FEEDS]]", strings.Join(texts, "\n\n"), 1)

	raw, err := l.client.CompleteJSON(ctx, prompt, buildSchema(l.taxonomy))
	if err != nil {
		return nil, err
	}

	var response struct {
		Labels []labelEntry `json:"labels"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, errors.Wrap(err, "LLM returned invalid JSON")
	}
	if len(response.Labels) != len(ids) {
		return nil, errors.Newf("expected %d label entries, got %d", len(ids), len(response.Labels))
	}

	result := make(map[string]Labels, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, entry := range response.Labels {
		if entry.FeedID == nil {
			return nil, errors.New("label entry missing feed_id")
		}
		numeric := *entry.FeedID
		if numeric < 0 || numeric >= len(ids) {
			return nil, errors.Newf("invalid feed id %d in label response", numeric)
		}
		if _, dup := seen[numeric]; dup {
			return nil, errors.Newf("duplicate feed id %d in label response", numeric)
		}
		seen[numeric] = struct{}{}

		labels := entry.Labels
		if len(labels.Language) != 2 {
			return nil, errors.Newf("language %q for feed id %d is not an ISO 639-1 code", labels.Language, numeric)
		}
		labels.TopLevelTags = l.filterTags(labels.TopLevelTags, toSet(l.taxonomy.TopLevel), "top_level", labels.CleanTitle)
		labels.DetailedTags = l.filterTags(labels.DetailedTags, toSet(l.taxonomy.Detailed), "detailed", labels.CleanTitle)
		labels.HiddenTags = l.filterTags(labels.HiddenTags, toSet(l.taxonomy.Hidden), "hidden", labels.CleanTitle)
		result[ids[numeric]] = labels
	}
	return result, nil
}

// filterTags drops tags the model invented outside the taxonomy.
func (l *Labeler) filterTags(tags []string, valid map[string]struct{}, granularity, title string) []string {
	kept := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := valid[tag]; ok {
			kept = append(kept, tag)
			continue
		}
		l.log.Warn("dropping invalid %s tag %q for feed %q", granularity, tag, title)
	}
	return kept
}
