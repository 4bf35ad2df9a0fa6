package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/feeddb/feeddb/feed"
)

// LoadRaw reads every *.feeds.jsonl snapshot under dir and returns the feeds
// in file order. When limitTo is non-empty, only sources named in it are
// loaded ("curated" matches curated.feeds.jsonl).
func LoadRaw(dir string, limitTo []string) ([]feed.Feed, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading raw data dir %s", dir)
	}

	wanted := make(map[string]struct{}, len(limitTo))
	for _, source := range limitTo {
		wanted[source+".feeds.jsonl"] = struct{}{}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".feeds.jsonl") {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[entry.Name()]; !ok {
				continue
			}
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var feeds []feed.Feed
	for _, name := range names {
		loaded, err := loadJSONL(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, loaded...)
	}
	return feeds, nil
}

func loadJSONL(path string) ([]feed.Feed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer file.Close()

	var feeds []feed.Feed
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var f feed.Feed
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return nil, errors.Wrapf(err, "parsing %s line %d", path, line)
		}
		feeds = append(feeds, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning %s", path)
	}
	return feeds, nil
}
