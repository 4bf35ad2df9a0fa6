// feeddb builds the curated feed database: it runs the enrichment pipeline
// over the raw ingest snapshots and writes the final JSONL snapshot.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/feeddb/feeddb/cachedmap"
	"github.com/feeddb/feeddb/logger"
	"github.com/feeddb/feeddb/pipeline"
)

func newLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	level, _ := cmd.Flags().GetString("log-level")
	switch level {
	case "trace":
		return logger.NewConsoleLogger(logger.LevelTrace)
	case "debug":
		return logger.NewConsoleLogger(logger.LevelDebug)
	case "warn":
		return logger.NewConsoleLogger(logger.LevelWarn)
	case "error":
		return logger.NewConsoleLogger(logger.LevelError)
	case "":
		return logger.NewConsoleLogger(logger.GetLevelFromEnv())
	}
	return logger.NewConsoleLogger(logger.LevelInfo)
}

func loadConfig(cmd *cobra.Command) (pipeline.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := pipeline.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if testMode, _ := cmd.Flags().GetBool("test"); testMode {
		cfg.TestMode = true
	}
	if trace, _ := cmd.Flags().GetString("trace"); trace != "" {
		cfg.Trace = trace
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "feeddb",
	Short: "Build and maintain the curated feed database",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enrichment pipeline and write the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cmd)

		p, err := pipeline.New(cfg, log)
		if err != nil {
			return err
		}
		p.Progress = newProgressRenderer().update

		result, err := p.Retry(cmd.Context(), cfg.Retries)
		if err != nil {
			return err
		}
		log.Info("processed %d feeds", len(result.Feeds))

		if cfg.TestMode {
			printTestInfo(log, result)
			return nil
		}
		if err := pipeline.WriteJSONL(cfg.OutputPath, result.Feeds); err != nil {
			return err
		}
		log.Info("wrote %s", cfg.OutputPath)
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Empty the per-stage sqlite caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cmd)
		if cfg.CacheDir == "" {
			return fmt.Errorf("no cache dir configured")
		}

		entries, err := os.ReadDir(cfg.CacheDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			switch filepath.Ext(entry.Name()) {
			case ".db", ".sqlite":
			default:
				continue
			}
			path := filepath.Join(cfg.CacheDir, entry.Name())
			m, err := cachedmap.Open[any, any](path, cachedmap.WithLogger(log))
			if err != nil {
				return err
			}
			if err := m.Clear(cmd.Context()); err != nil {
				m.Close()
				return err
			}
			if err := m.Close(); err != nil {
				return err
			}
			log.Info("cleared %s", path)
		}
		return nil
	},
}

// printTestInfo mirrors what a curator wants to eyeball on a sample run: the
// enriched fields per feed plus the most and least similar feeds for one of
// them.
func printTestInfo(log logger.Logger, result *pipeline.Result) {
	ids := make([]string, 0, len(result.Feeds))
	for id := range result.Feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := result.Feeds[id]
		log.Info("feed %s: %q", id, e.Feed.Title)
		if e.LastPostAge != nil {
			log.Info("  last post age: %.1f days", e.LastPostAge.Hours()/24)
		}
		if e.PostsPerDay != nil {
			log.Info("  posts per day: %.1f", *e.PostsPerDay)
		}
		log.Info("  items: %d", len(e.Items))
		log.Info("  clean title: %s", e.Feed.CleanedTitle)
		log.Info("  description: %s", e.Feed.Summary)
		log.Info("  tags: %v", e.Feed.Tags)
		log.Info("  lang: %s", e.Feed.Language)
	}

	if len(ids) == 0 || result.Index == nil {
		return
	}
	sampleID := ids[0]
	vec, ok := result.Index.Vector(sampleID)
	if !ok {
		return
	}
	matches, err := result.Index.Nearest(vec, result.Index.Len())
	if err != nil {
		log.Warn("similarity query failed: %v", err)
		return
	}

	log.Info("most similar feeds to %q:", result.Feeds[sampleID].Feed.Title)
	for i := 0; i < 3 && i < len(matches); i++ {
		log.Info("  %s (similarity: %.3f)", matches[i].Metadata.Title, matches[i].Similarity)
	}
	log.Info("least similar feeds:")
	for i := 0; i < 3 && i < len(matches); i++ {
		m := matches[len(matches)-1-i]
		log.Info("  %s (similarity: %.3f)", m.Metadata.Title, m.Similarity)
	}
}

func main() {
	rootCmd.PersistentFlags().String("config", "feeddb.yaml", "path to the config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	runCmd.Flags().Bool("test", false, "run once over a small deterministic sample")
	runCmd.Flags().String("trace", "", "log feeds whose title contains this query at every stage")
	rootCmd.AddCommand(runCmd, clearCacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
