package pipeline

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration parses human-friendly YAML values like "45s", "2h30m" or "60d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config drives a pipeline run. Zero values fall back to the defaults below
// so a partial YAML file works.
type Config struct {
	// RawDir holds the *.feeds.jsonl ingest snapshots.
	RawDir string `yaml:"raw_dir"`
	// CacheDir holds the per-stage sqlite caches. Empty selects ephemeral
	// in-memory caches, which is what tests want.
	CacheDir       string `yaml:"cache_dir"`
	CategoriesPath string `yaml:"categories_path"`
	OutputPath     string `yaml:"output_path"`

	LLMModel     string `yaml:"llm_model"`
	EmbedBaseURL string `yaml:"embed_base_url"`
	EmbedModel   string `yaml:"embed_model"`

	FetchTimeout Duration `yaml:"fetch_timeout"`
	// RecencyWindow drops feeds whose newest post is older than this.
	RecencyWindow Duration `yaml:"recency_window"`

	FetchWorkers   int `yaml:"fetch_workers"`
	LabelWorkers   int `yaml:"label_workers"`
	LabelBatchSize int `yaml:"label_batch_size"`
	EmbedBatchSize int `yaml:"embed_batch_size"`

	Retries int `yaml:"retries"`
	// TestMode runs once over a small deterministic sample.
	TestMode bool `yaml:"test_mode"`
	// Trace logs feeds whose title contains this query at every stage.
	Trace string `yaml:"trace"`
}

func DefaultConfig() Config {
	return Config{
		RawDir:         "raw_data",
		CacheDir:       "caches",
		CategoriesPath: "categories.json",
		OutputPath:     "generated/pipeline.jsonl",
		LLMModel:       "openai/gpt-4o-mini",
		FetchTimeout:   Duration(5 * time.Second),
		RecencyWindow:  Duration(60 * 24 * time.Hour),
		FetchWorkers:   8,
		LabelWorkers:   10,
		LabelBatchSize: 8,
		EmbedBatchSize: 10,
		Retries:        5,
	}
}

// LoadConfig reads a YAML config file, layering it over the defaults. A
// missing path returns the defaults untouched. FEEDDB_RAW_DIR,
// FEEDDB_CACHE_DIR and FEEDDB_OUTPUT override their file counterparts.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrap(err, "reading config")
			}
		} else if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parsing config")
		}
	}
	if v := os.Getenv("FEEDDB_RAW_DIR"); v != "" {
		cfg.RawDir = v
	}
	if v := os.Getenv("FEEDDB_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("FEEDDB_OUTPUT"); v != "" {
		cfg.OutputPath = v
	}
	return cfg, nil
}
