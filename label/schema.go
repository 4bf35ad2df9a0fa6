package label

// buildSchema produces the JSON schema enforced on the LLM response. Tag
// arrays are constrained to the taxonomy's vocabulary so most invented tags
// are rejected at the provider rather than filtered client-side.
func buildSchema(tax Taxonomy) map[string]any {
	tagArray := func(vocab []string) map[string]any {
		items := map[string]any{"type": "string"}
		if len(vocab) > 0 {
			items["enum"] = vocab
		}
		return map[string]any{"type": "array", "items": items}
	}
	entry := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"feed_id":       map[string]any{"type": "integer"},
			"nsfw":          map[string]any{"type": "boolean"},
			"spam_or_junk":  map[string]any{"type": "boolean"},
			"clean_title":   map[string]any{"type": "string"},
			"clean_author":  map[string]any{"type": "string"},
			"description":   map[string]any{"type": "string"},
			"language":      map[string]any{"type": "string"},
			"top_level_tags": tagArray(tax.TopLevel),
			"detailed_tags":  tagArray(tax.Detailed),
			"hidden_tags":    tagArray(tax.Hidden),
			"keywords": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{
			"feed_id", "nsfw", "spam_or_junk", "clean_title", "description",
			"language", "top_level_tags", "detailed_tags", "hidden_tags", "keywords",
		},
		"additionalProperties": false,
	}
	return map[string]any{
		"name":   "feed_labels",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"labels": map[string]any{"type": "array", "items": entry},
			},
			"required":             []string{"labels"},
			"additionalProperties": false,
		},
	}
}
