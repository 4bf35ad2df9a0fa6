package label

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// Taxonomy is the fixed tag vocabulary the labeler may assign from, in three
// granularities. Tags outside these lists are dropped from LLM responses.
type Taxonomy struct {
	TopLevel []string `json:"top_level"`
	Detailed []string `json:"detailed"`
	Hidden   []string `json:"hidden"`
}

// LoadTaxonomy reads a categories file of the shape {"tags": {"top_level":
// [...], "detailed": [...], "hidden": [...]}}.
func LoadTaxonomy(path string) (Taxonomy, error) {
	var doc struct {
		Tags Taxonomy `json:"tags"`
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, errors.Wrap(err, "reading categories file")
	}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return Taxonomy{}, errors.Wrap(err, "parsing categories file")
	}
	if len(doc.Tags.TopLevel) == 0 {
		return Taxonomy{}, errors.New("categories file has no top_level tags")
	}
	return doc.Tags, nil
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
