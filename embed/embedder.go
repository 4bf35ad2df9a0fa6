// Package embed turns feeds into dense vectors via an ollama-compatible
// embeddings endpoint and serves similarity queries over them in memory.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/feeddb/feeddb/feed"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "nomic-embed-text"
)

// Embedder calls an ollama /api/embed endpoint.
type Embedder struct {
	BaseURL string
	Model   string
	client  *http.Client
}

func NewEmbedder() *Embedder {
	return &Embedder{
		BaseURL: defaultBaseURL,
		Model:   defaultModel,
		client:  &http.Client{Timeout: time.Minute},
	}
}

// embedText joins the fields worth embedding. Empty fields are skipped so a
// bare feed still produces a usable input.
func embedText(f feed.Feed) string {
	parts := []string{f.Title, f.Summary, f.Details, strings.Join(f.Tags, " ")}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single piece of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.Model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling embeddings endpoint")
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading embeddings response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("embeddings endpoint returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "decoding embeddings response")
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, errors.New("embeddings response is empty")
	}
	return parsed.Embeddings[0], nil
}

// BatchEmbed embeds each feed in the batch. It satisfies cachedmap.BatchFunc
// so results are memoized per feed content.
func (e *Embedder) BatchEmbed(ctx context.Context, batch map[string]feed.Feed) (map[string][]float32, error) {
	out := make(map[string][]float32, len(batch))
	for id, f := range batch {
		vec, err := e.Embed(ctx, embedText(f))
		if err != nil {
			return nil, errors.Wrapf(err, "embedding feed %s", id)
		}
		out[id] = vec
	}
	return out, nil
}
