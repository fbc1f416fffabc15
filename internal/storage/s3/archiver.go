package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sentinel-ueba/internal/pattern"
)

// MatchArchiver writes swept pattern matches to object storage as
// JSON-lines batches, keyed by sweep date. It implements the pattern
// engine's Archiver hook.
type MatchArchiver struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

// NewMatchArchiver creates an archiver over the S3 client.
func NewMatchArchiver(client *Client, logger *slog.Logger) *MatchArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchArchiver{
		client: client,
		logger: logger.With("component", "match_archiver"),
		now:    time.Now,
	}
}

// ArchiveMatches uploads one object per sweep containing every expired
// match as a JSON line.
func (a *MatchArchiver) ArchiveMatches(ctx context.Context, matches []*pattern.Match) error {
	if len(matches) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, match := range matches {
		if err := enc.Encode(match); err != nil {
			return fmt.Errorf("failed to encode match %s: %w", match.ID, err)
		}
	}

	now := a.now().UTC()
	key := fmt.Sprintf("matches/%s/%s-%s.jsonl",
		now.Format("2006/01/02"),
		now.Format("150405"),
		uuid.New().String()[:8])

	if err := a.client.Upload(ctx, key, "application/x-ndjson", &buf); err != nil {
		return err
	}

	a.logger.Info("archived expired matches", "count", len(matches), "key", key)
	return nil
}
