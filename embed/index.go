package embed

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/viterin/vek/vek32"
)

// Metadata is the per-feed payload stored alongside a vector.
type Metadata struct {
	Title    string
	Kind     string
	Language string
	Tags     []string
	Document string
}

// Match is one similarity result.
type Match struct {
	ID         string
	Similarity float32
	Metadata   Metadata
}

type indexEntry struct {
	id   string
	vec  []float32
	meta Metadata
}

// Index is an in-memory brute-force similarity index over feed vectors.
// Brute force is fine at this scale; the corpus is tens of thousands of
// feeds, not millions.
type Index struct {
	mu      sync.RWMutex
	entries []indexEntry
	dim     int
}

func NewIndex() *Index {
	return &Index{}
}

// Add inserts a vector under id. All vectors must share one dimensionality.
func (x *Index) Add(id string, vec []float32, meta Metadata) error {
	if len(vec) == 0 {
		return errors.Newf("empty vector for %s", id)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dim == 0 {
		x.dim = len(vec)
	} else if len(vec) != x.dim {
		return errors.Newf("vector for %s has dimension %d, index has %d", id, len(vec), x.dim)
	}
	x.entries = append(x.entries, indexEntry{id: id, vec: vec, meta: meta})
	return nil
}

// Vector returns the stored vector for id.
func (x *Index) Vector(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, e := range x.entries {
		if e.id == id {
			return e.vec, true
		}
	}
	return nil, false
}

// Len reports the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Nearest returns up to k entries by descending cosine similarity to query.
func (x *Index) Nearest(query []float32, k int) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dim != 0 && len(query) != x.dim {
		return nil, errors.Newf("query has dimension %d, index has %d", len(query), x.dim)
	}

	matches := make([]Match, 0, len(x.entries))
	for _, e := range x.entries {
		matches = append(matches, Match{
			ID:         e.id,
			Similarity: vek32.CosineSimilarity(query, e.vec),
			Metadata:   e.meta,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
