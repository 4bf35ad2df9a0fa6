package cachedmap

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/feeddb/feeddb/logger"
)

// BatchFunc transforms a batch of id-keyed inputs into id-keyed outputs.
// One invocation may cover many items so a single network or LLM call can
// serve the whole batch.
type BatchFunc[I, O any] func(ctx context.Context, batch map[string]I) (map[string]O, error)

// Func transforms a single input. Used by the Map convenience wrapper.
type Func[I, O any] func(ctx context.Context, id string, in I) (O, error)

// CachedMap memoizes a batch transformation in SQLite. See the package
// documentation for the caching model.
type CachedMap[I, O any] struct {
	store    *store
	log      logger.Logger
	codec    Codec
	progress func(done, total int)
}

type options struct {
	log      logger.Logger
	codec    Codec
	progress func(done, total int)
}

type Option func(*options)

// WithLogger overrides the default console logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithCodec overrides the output encoding (JSONCodec by default).
func WithCodec(codec Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithProgress installs a callback invoked after each batch completes during
// concurrent runs. Reporting is a side effect only; it carries no result data.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Open creates a CachedMap backed by the SQLite database at path. An empty
// path selects an ephemeral in-process store that lives until Close.
func Open[I, O any](path string, opts ...Option) (*CachedMap[I, O], error) {
	o := options{
		log:   logger.NewConsoleLogger(),
		codec: JSONCodec,
	}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := openStore(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	return &CachedMap[I, O]{
		store:    s,
		log:      o.log.WithPrefix("[cachedmap]"),
		codec:    o.codec,
		progress: o.progress,
	}, nil
}

// contentKey serializes an input for change detection. encoding/json writes
// map keys in sorted order, so logically equal inputs produce identical keys
// regardless of construction order.
func contentKey(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Map returns the transform's output for every input id, computing only the
// ids without a cache entry for their current content under version.
//
// With workers <= 1, or when at most one input is uncached, the transform
// runs synchronously on the whole uncached set and its error (if any)
// propagates to the caller unwrapped. Otherwise the uncached set is split
// into batches of at most batchSize and executed across min(workers, batches)
// goroutines; a failed batch is logged and its ids are simply absent from the
// result, and stale entries are cleaned up best-effort afterwards.
func (m *CachedMap[I, O]) Map(ctx context.Context, inputs map[string]I, fn BatchFunc[I, O], version string, workers, batchSize int) (map[string]O, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	results := make(map[string]O, len(inputs))
	uncached := make(map[string]I)
	uncachedIDs := make([]string, 0)

	for _, id := range sortedKeys(inputs) {
		in := inputs[id]
		key, err := contentKey(in)
		if err != nil {
			return nil, fmt.Errorf("serializing input %q: %w", id, err)
		}
		if out, ok := m.lookup(ctx, id, key, version); ok {
			results[id] = out
			continue
		}
		uncached[id] = in
		uncachedIDs = append(uncachedIDs, id)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	if workers <= 1 || len(uncached) <= 1 {
		batchOut, err := m.runBatch(ctx, uncached, fn, version)
		if err != nil {
			// No isolation boundary in sequential mode: the transform's
			// error goes straight back to the caller.
			return nil, err
		}
		for id, out := range batchOut {
			results[id] = out
		}
		return results, nil
	}

	var batches []map[string]I
	current := make(map[string]I)
	for _, id := range uncachedIDs {
		current[id] = uncached[id]
		if len(current) >= batchSize {
			batches = append(batches, current)
			current = make(map[string]I)
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	effective := workers
	if len(batches) < effective {
		effective = len(batches)
	}
	for id, out := range m.runBatches(ctx, batches, fn, version, effective) {
		results[id] = out
	}

	if err := m.Cleanup(ctx, sortedKeys(inputs), version); err != nil {
		m.log.Warn("cache cleanup failed: %v", err)
	}
	return results, nil
}

// lookup degrades store errors and undecodable entries to a miss so transient
// storage trouble forces recomputation instead of failing the run.
func (m *CachedMap[I, O]) lookup(ctx context.Context, id, key, version string) (O, bool) {
	var out O
	body, found, err := m.store.get(ctx, id, key, version)
	if err != nil {
		m.log.Warn("error retrieving %q from cache, treating as miss: %v", id, err)
		return out, false
	}
	if !found {
		return out, false
	}
	if err := m.codec.Unmarshal(body, &out); err != nil {
		m.log.Warn("discarding unreadable cache entry for %q: %v", id, err)
		var zero O
		return zero, false
	}
	return out, true
}

// runBatch executes fn on a batch already known to be uncached and persists
// each returned output under a key derived from its own input. Transform
// errors are returned as-is.
func (m *CachedMap[I, O]) runBatch(ctx context.Context, batch map[string]I, fn BatchFunc[I, O], version string) (map[string]O, error) {
	out, err := fn(ctx, batch)
	if err != nil {
		return nil, err
	}
	for id, res := range out {
		in, ok := batch[id]
		if !ok {
			m.log.Warn("transform returned id %q not present in its batch, not caching", id)
			continue
		}
		m.persist(ctx, id, in, res, version)
	}
	return out, nil
}

// persist write-backs one result. Failures downgrade to warnings: the caller
// still gets the freshly computed value even if it could not be stored.
func (m *CachedMap[I, O]) persist(ctx context.Context, id string, in I, out O, version string) {
	key, err := contentKey(in)
	if err != nil {
		m.log.Warn("could not serialize input %q for caching: %v", id, err)
		return
	}
	body, err := m.codec.Marshal(out)
	if err != nil {
		m.log.Warn("could not encode output for %q: %v", id, err)
		return
	}
	if err := m.store.put(ctx, id, key, body, version); err != nil {
		m.log.Warn("could not cache output for %q: %v", id, err)
	}
}

// runBatches executes batches across a pool of workers, collecting results in
// completion order. A batch failure is logged and isolated; its ids are
// absent from the merged result while every other batch proceeds.
func (m *CachedMap[I, O]) runBatches(ctx context.Context, batches []map[string]I, fn BatchFunc[I, O], version string, workers int) map[string]O {
	type result struct {
		index int
		out   map[string]O
		err   error
	}
	sem := semaphore.NewWeighted(int64(workers))
	ch := make(chan result)
	for i, batch := range batches {
		go func(index int, batch map[string]I) {
			if err := sem.Acquire(ctx, 1); err != nil {
				ch <- result{index: index, err: err}
				return
			}
			defer sem.Release(1)
			out, err := m.runBatch(ctx, batch, fn, version)
			ch <- result{index: index, out: out, err: err}
		}(i, batch)
	}

	merged := make(map[string]O)
	for done := 1; done <= len(batches); done++ {
		res := <-ch
		if res.err != nil {
			m.log.Error("error in batch %d: %v", res.index, res.err)
		} else {
			for id, out := range res.out {
				merged[id] = out
			}
		}
		if m.progress != nil {
			m.progress(done, len(batches))
		}
	}
	return merged
}

// Cleanup removes entries from versions other than version, and entries of
// version whose input id is not in currentIDs. Map calls this implicitly
// after concurrent runs; it is exported for callers that shrink their working
// set without running a map.
func (m *CachedMap[I, O]) Cleanup(ctx context.Context, currentIDs []string, version string) error {
	return m.store.cleanup(ctx, currentIDs, version)
}

// Clear unconditionally empties the cache.
func (m *CachedMap[I, O]) Clear(ctx context.Context) error {
	return m.store.clear(ctx)
}

// Close releases the store. Safe to call multiple times.
func (m *CachedMap[I, O]) Close() error {
	return m.store.close()
}

// Map is the functional interface for single-item transforms: it opens the
// cache at path, maps every input through fn with batch size 1, and closes
// the cache again.
func Map[I, O any](ctx context.Context, inputs map[string]I, fn Func[I, O], path, version string, workers int, opts ...Option) (map[string]O, error) {
	batchFn := func(ctx context.Context, batch map[string]I) (map[string]O, error) {
		out := make(map[string]O, len(batch))
		for id, in := range batch {
			res, err := fn(ctx, id, in)
			if err != nil {
				return nil, err
			}
			out[id] = res
		}
		return out, nil
	}
	return MapBatched(ctx, inputs, batchFn, 1, path, version, workers, opts...)
}

// MapBatched is the functional interface for batch transforms with a
// caller-chosen batch size.
func MapBatched[I, O any](ctx context.Context, inputs map[string]I, fn BatchFunc[I, O], batchSize int, path, version string, workers int, opts ...Option) (map[string]O, error) {
	m, err := Open[I, O](path, opts...)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return m.Map(ctx, inputs, fn, version, workers, batchSize)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
