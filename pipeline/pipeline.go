// Package pipeline orchestrates the curation run: load raw ingest snapshots,
// validate and dedupe, fetch live content, label with an LLM, filter, and
// embed. Every expensive stage is memoized through cachedmap so reruns only
// pay for feeds whose content changed.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/feeddb/feeddb/cachedmap"
	"github.com/feeddb/feeddb/embed"
	"github.com/feeddb/feeddb/feed"
	"github.com/feeddb/feeddb/fetch"
	"github.com/feeddb/feeddb/label"
	"github.com/feeddb/feeddb/logger"
)

// Cache versions. Bump one to invalidate that stage's cache on the next run.
const (
	fetchCacheVersion = "v1"
	labelCacheVersion = "v4"
	embedCacheVersion = "v2"
)

const testSampleSize = 3

// Enriched is a feed plus everything the run learned about it.
type Enriched struct {
	Feed            feed.Feed    `json:"feed"`
	Items           []fetch.Item `json:"items"`
	FeedDescription string       `json:"feed_description,omitempty"`

	FetchDate time.Time `json:"fetch_date"`
	// LastPostAge is how old the newest post was at fetch time, nil when the
	// feed had no dated posts (or the fetch failed).
	LastPostAge *time.Duration `json:"last_post_age,omitempty"`
	PostsPerDay *float64       `json:"posts_per_day,omitempty"`
}

// Result is the output of one pipeline run.
type Result struct {
	Feeds map[string]Enriched
	Index *embed.Index
}

// Pipeline wires the stages together. Fields are exported so tests can swap
// in fakes (an httptest fetcher target, a canned LLM client).
type Pipeline struct {
	Config   Config
	Log      logger.Logger
	Fetcher  *fetch.Fetcher
	Labeler  *label.Labeler
	Embedder *embed.Embedder
	// Progress, when set, receives per-stage batch completion updates.
	Progress func(stage string, done, total int)
}

// New builds a pipeline from config. The taxonomy file must exist.
func New(cfg Config, log logger.Logger) (*Pipeline, error) {
	taxonomy, err := label.LoadTaxonomy(cfg.CategoriesPath)
	if err != nil {
		return nil, err
	}
	embedder := embed.NewEmbedder()
	if cfg.EmbedBaseURL != "" {
		embedder.BaseURL = cfg.EmbedBaseURL
	}
	if cfg.EmbedModel != "" {
		embedder.Model = cfg.EmbedModel
	}
	return &Pipeline{
		Config:   cfg,
		Log:      log,
		Fetcher:  fetch.New(cfg.FetchTimeout.Std()),
		Labeler:  label.NewLabeler(label.NewHTTPClient(cfg.LLMModel), taxonomy, log),
		Embedder: embedder,
	}, nil
}

// Run executes the full pipeline once.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()[:8]
	log := p.Log.With(map[string]interface{}{"run": runID}).WithPrefix("[pipeline]")

	feeds, err := LoadRaw(p.Config.RawDir, nil)
	if err != nil {
		return nil, err
	}
	log.Info("%d feeds in raw data", len(feeds))
	p.trace(log, "initial raw feeds", feeds)

	feeds = feed.Validate(log, feeds)
	p.trace(log, "after validation", feeds)

	// Last record wins for duplicate ids, matching raw snapshot semantics
	// where later files carry fresher data.
	byID := make(map[string]feed.Feed, len(feeds))
	for _, f := range feeds {
		byID[f.ID] = f
	}
	log.Info("%d unique feeds", len(byID))

	if p.Config.TestMode {
		byID = sampleFeeds(byID, testSampleSize)
		log.Info("test mode: sampled down to %d feeds", len(byID))
	}

	byID = feed.SimpleDedupe(log, byID)
	p.trace(log, "after simple dedupe", feedMap(byID))

	log.Info("enriching %d feeds by fetching latest items", len(byID))
	enriched, err := cachedmap.Map(ctx, byID, p.enrich,
		p.cachePath("feed_fetch_cache.db"), fetchCacheVersion, p.Config.FetchWorkers,
		p.stageOptions(log, "fetch")...)
	if err != nil {
		return nil, err
	}
	p.trace(log, "after enrichment", enrichedMap(enriched))

	enriched = p.filterRecent(log, enriched)
	p.trace(log, "after recency filter", enrichedMap(enriched))

	enriched = p.contentDedupe(log, enriched)
	p.trace(log, "after content dedupe", enrichedMap(enriched))

	enriched, err = p.addLabels(ctx, log, enriched)
	if err != nil {
		return nil, err
	}
	p.trace(log, "after labeling and filtering", enrichedMap(enriched))

	index, err := p.buildEmbeddings(ctx, log, enriched)
	if err != nil {
		return nil, err
	}

	log.Info("pipeline produced %d feeds", len(enriched))
	return &Result{Feeds: enriched, Index: index}, nil
}

// Retry reruns the pipeline until one attempt succeeds. Test mode runs once
// and propagates the error directly.
func (p *Pipeline) Retry(ctx context.Context, times int) (*Result, error) {
	if p.Config.TestMode || times < 1 {
		return p.Run(ctx)
	}
	var lastErr error
	for attempt := 1; attempt <= times; attempt++ {
		p.Log.Info("pipeline attempt %d/%d", attempt, times)
		result, err := p.Run(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		p.Log.Error("pipeline attempt %d failed: %v", attempt, err)
	}
	return nil, fmt.Errorf("all %d pipeline attempts failed: %w", times, lastErr)
}

// enrich fetches one feed's content and derives posting statistics. Fetch
// failures degrade to an empty enrichment so one dead feed never poisons the
// run; the recency filter drops it later.
func (p *Pipeline) enrich(ctx context.Context, id string, f feed.Feed) (Enriched, error) {
	now := time.Now()
	out := Enriched{Feed: f, Items: []fetch.Item{}, FetchDate: now}

	url, err := f.SyndicationURL()
	if err != nil {
		p.Log.Warn("cannot enrich %q: %v", f.Title, err)
		return out, nil
	}
	content, err := p.Fetcher.Fetch(ctx, url)
	if err != nil {
		p.Log.Warn("error enriching feed %q: %v", f.Title, err)
		return out, nil
	}

	out.Items = content.Items
	out.FeedDescription = content.Description
	if content.LastPostDate != nil {
		age := now.Sub(*content.LastPostDate)
		out.LastPostAge = &age
		if content.MedianPostInterval > 0 {
			perDay := float64(24*time.Hour) / float64(content.MedianPostInterval)
			out.PostsPerDay = &perDay
		}
	}
	return out, nil
}

func (p *Pipeline) filterRecent(log logger.Logger, enriched map[string]Enriched) map[string]Enriched {
	window := p.Config.RecencyWindow.Std()
	kept := make(map[string]Enriched, len(enriched))
	for id, e := range enriched {
		if e.LastPostAge != nil && *e.LastPostAge < window {
			kept[id] = e
		}
	}
	log.Info("%d feeds posted in the past %s", len(kept), window)
	return kept
}

// contentDedupe merges feeds whose recent items are identical, which catches
// the same publication ingested under different URLs. The fingerprint hashes
// the first five item display names.
func (p *Pipeline) contentDedupe(log logger.Logger, enriched map[string]Enriched) map[string]Enriched {
	result := make(map[string]Enriched, len(enriched))
	byFingerprint := make(map[uint64]string)

	for _, id := range sortedIDs(enriched) {
		e := enriched[id]
		if len(e.Items) == 0 {
			result[id] = e
			continue
		}
		fp := contentFingerprint(e.Items)
		if primaryID, seen := byFingerprint[fp]; seen {
			primary := result[primaryID]
			primary.Feed = feed.Merge(primary.Feed, e.Feed)
			result[primaryID] = primary
			continue
		}
		byFingerprint[fp] = id
		result[id] = e
	}

	log.Info("content dedupe: %d -> %d feeds", len(enriched), len(result))
	return result
}

func contentFingerprint(items []fetch.Item) uint64 {
	digest := xxhash.New()
	for i, item := range items {
		if i >= 5 {
			break
		}
		name := item.Title
		if name == "" {
			name = item.Description
		}
		digest.WriteString(name)
		digest.WriteString("||")
	}
	return digest.Sum64()
}

// addLabels runs the cached LLM labeling stage, copies labels into the feeds
// and drops NSFW or spammy entries. Feeds from curated sources are always
// kept regardless of labels.
func (p *Pipeline) addLabels(ctx context.Context, log logger.Logger, enriched map[string]Enriched) (map[string]Enriched, error) {
	log.Info("labeling %d feeds", len(enriched))

	inputs := make(map[string]label.Input, len(enriched))
	for id, e := range enriched {
		inputs[id] = label.Input{Feed: e.Feed, FeedDescription: e.FeedDescription, Items: e.Items}
	}
	labels, err := cachedmap.MapBatched(ctx, inputs, p.Labeler.BatchLabel, p.Config.LabelBatchSize,
		p.cachePath("feed_labels_cache.db"), labelCacheVersion, p.Config.LabelWorkers,
		p.stageOptions(log, "label")...)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Enriched, len(labels))
	var dropped []string
	for id, l := range labels {
		e := enriched[id]
		e.Feed.CleanedTitle = l.CleanTitle
		e.Feed.CleanedAuthor = l.CleanAuthor
		if e.Feed.Summary == "" {
			e.Feed.Summary = l.Description
		}
		e.Feed.Tags = append(append(append([]string{}, l.TopLevelTags...), l.DetailedTags...), l.HiddenTags...)
		e.Feed.Language = l.Language
		if len(e.Feed.Keywords) == 0 {
			e.Feed.Keywords = l.Keywords
		}

		allow := !l.NSFW && !l.SpamOrJunk &&
			!slices.Contains(l.HiddenTags, "_conspiratorial") &&
			!slices.Contains(l.HiddenTags, "_sensationalized")
		if slices.Contains(e.Feed.Sources, "curated") {
			allow = true
		}
		if allow {
			results[id] = e
		} else {
			dropped = append(dropped, e.Feed.Title)
		}
	}

	log.Info("filtered %d/%d feeds out due to NSFW or spamminess: %v", len(dropped), len(labels), dropped)
	return results, nil
}

// buildEmbeddings embeds every surviving feed and loads the vectors into an
// in-memory similarity index.
func (p *Pipeline) buildEmbeddings(ctx context.Context, log logger.Logger, enriched map[string]Enriched) (*embed.Index, error) {
	log.Info("embedding %d feeds", len(enriched))

	inputs := make(map[string]feed.Feed, len(enriched))
	for id, e := range enriched {
		inputs[id] = e.Feed
	}
	vectors, err := cachedmap.MapBatched(ctx, inputs, p.Embedder.BatchEmbed, p.Config.EmbedBatchSize,
		p.cachePath("embed_cache.sqlite"), embedCacheVersion, 1,
		p.stageOptions(log, "embed")...)
	if err != nil {
		return nil, err
	}

	index := embed.NewIndex()
	for _, id := range sortedIDs(vectors) {
		f := inputs[id]
		err := index.Add(id, vectors[id], embed.Metadata{
			Title:    f.Title,
			Kind:     string(f.Kind),
			Language: f.Language,
			Tags:     f.Tags,
			Document: f.Summary,
		})
		if err != nil {
			return nil, err
		}
	}
	return index, nil
}

// WriteJSONL writes the final snapshot, one {"id", "feed"} object per line in
// id order, for downstream consumers.
func WriteJSONL(path string, feeds map[string]Enriched) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, id := range sortedIDs(feeds) {
		line, err := jsonLine(id, feeds[id].Feed)
		if err != nil {
			return err
		}
		if _, err := file.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) cachePath(name string) string {
	if p.Config.CacheDir == "" {
		return ""
	}
	if err := os.MkdirAll(p.Config.CacheDir, 0o755); err != nil {
		p.Log.Warn("could not create cache dir %s: %v", p.Config.CacheDir, err)
		return ""
	}
	return filepath.Join(p.Config.CacheDir, name)
}

func (p *Pipeline) stageOptions(log logger.Logger, stage string) []cachedmap.Option {
	opts := []cachedmap.Option{cachedmap.WithLogger(log)}
	if stage == "fetch" {
		opts = append(opts, cachedmap.WithCodec(cachedmap.MsgpackCodec))
	}
	if p.Progress != nil {
		opts = append(opts, cachedmap.WithProgress(func(done, total int) {
			p.Progress(stage, done, total)
		}))
	}
	return opts
}

// trace logs feeds whose title contains the configured query, so one
// publication can be followed through every stage.
func (p *Pipeline) trace(log logger.Logger, stage string, feeds []feed.Feed) {
	query := strings.ToLower(p.Config.Trace)
	if query == "" {
		return
	}
	matched := 0
	for _, f := range feeds {
		if !strings.Contains(strings.ToLower(f.Title), query) {
			continue
		}
		matched++
		log.Info("[trace] %s: %s - %q - %s (sources: %s)", stage, f.Kind, f.Title, f.FeedURL, strings.Join(f.Sources, ", "))
	}
	log.Info("[trace] stage %q: %d matching feeds", stage, matched)
}

// sampleFeeds picks a small deterministic subset for test mode. The shuffle
// is seeded so reruns exercise the same feeds and stay cached.
func sampleFeeds(feeds map[string]feed.Feed, n int) map[string]feed.Feed {
	if len(feeds) <= n {
		return feeds
	}
	ids := make([]string, 0, len(feeds))
	for id := range feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rng := rand.New(rand.NewPCG(4, 0))
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	sample := make(map[string]feed.Feed, n)
	for _, id := range ids[:n] {
		sample[id] = feeds[id]
	}
	return sample
}

func feedMap(feeds map[string]feed.Feed) []feed.Feed {
	out := make([]feed.Feed, 0, len(feeds))
	for _, id := range sortedIDs(feeds) {
		out = append(out, feeds[id])
	}
	return out
}

func enrichedMap(enriched map[string]Enriched) []feed.Feed {
	out := make([]feed.Feed, 0, len(enriched))
	for _, id := range sortedIDs(enriched) {
		out = append(out, enriched[id].Feed)
	}
	return out
}

func jsonLine(id string, f feed.Feed) ([]byte, error) {
	buf, err := json.Marshal(struct {
		ID   string    `json:"id"`
		Feed feed.Feed `json:"feed"`
	}{ID: id, Feed: f})
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
