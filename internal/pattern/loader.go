package pattern

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir loads custom pattern definitions from every .yaml/.yml file in
// dir and registers them on the engine. A file that fails to parse or
// validate is skipped and logged; it never rejects the rest of the
// catalog.
func LoadDir(engine *Engine, dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read pattern directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read pattern file", "path", path, "error", err)
			continue
		}

		patterns, err := ParsePatterns(data)
		if err != nil {
			logger.Warn("skipping invalid pattern file", "path", path, "error", err)
			continue
		}

		for _, p := range patterns {
			if err := engine.AddPattern(p); err != nil {
				logger.Warn("skipping invalid pattern",
					"path", path,
					"pattern_id", p.ID,
					"error", err)
				continue
			}
			loaded++
		}
	}

	logger.Info("loaded custom patterns", "dir", dir, "count", loaded)
	return loaded, nil
}
