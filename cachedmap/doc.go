// Package cachedmap maps ids to computed outputs with disk-backed caching.
//
// A CachedMap memoizes an expensive batch transformation (network fetch, LLM
// call, embedding generation) in a SQLite table keyed by input id, a
// deterministic serialization of the input's content, and a caller-supplied
// version tag. Repeated pipeline runs only recompute inputs whose content or
// version changed; everything else is served from disk. Uncached inputs are
// partitioned into batches and executed across a bounded worker pool, and
// per-batch failures never block sibling batches.
package cachedmap
