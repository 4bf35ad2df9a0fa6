package label

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Client performs one structured-output LLM completion and returns the raw
// JSON payload of the model's message.
type Client interface {
	CompleteJSON(ctx context.Context, prompt string, schema map[string]any) ([]byte, error)
}

const defaultBaseURL = "https://openrouter.ai/api/v1"

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint
// (OpenRouter by default) with JSON-schema response enforcement.
type HTTPClient struct {
	BaseURL string
	Model   string
	APIKey  string
	client  *http.Client
}

// NewHTTPClient builds a client for model. The API key is read from
// OPENROUTER_API_KEY when not set explicitly.
func NewHTTPClient(model string) *HTTPClient {
	return &HTTPClient{
		BaseURL: defaultBaseURL,
		Model:   model,
		APIKey:  os.Getenv("OPENROUTER_API_KEY"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) CompleteJSON(ctx context.Context, prompt string, schema map[string]any) ([]byte, error) {
	var format any = map[string]string{"type": "json_object"}
	if schema != nil {
		format = map[string]any{"type": "json_schema", "json_schema": schema}
	}
	body, err := json.Marshal(chatRequest{
		Model:          c.Model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: format,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling LLM endpoint")
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading LLM response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("LLM endpoint returned status %d: %s", resp.StatusCode, truncate(string(payload), 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "decoding LLM response envelope")
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("LLM response has no choices")
	}
	return []byte(parsed.Choices[0].Message.Content), nil
}
