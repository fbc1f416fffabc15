package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/logging"
	"sentinel-ueba/internal/pattern"
)

// FindingWriterConfig holds batching settings for the finding writer.
type FindingWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultFindingWriterConfig returns the default batching configuration.
func DefaultFindingWriterConfig() FindingWriterConfig {
	return FindingWriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// FindingWriter buffers anomalies and pattern matches and writes them to
// ClickHouse in batches. It implements the engines' handler signatures.
type FindingWriter struct {
	client *ClickHouseClient
	config FindingWriterConfig
	logger *slog.Logger

	anomalies []*behavior.Anomaly
	matches   []*pattern.Match
	mu        sync.Mutex
	closed    bool

	flushTimer *time.Timer

	// Insert seams, replaced in tests.
	insertAnomalies func(ctx context.Context, batch []*behavior.Anomaly) error
	insertMatches   func(ctx context.Context, batch []*pattern.Match) error

	written uint64
	failed  uint64
}

// NewFindingWriter creates a finding writer and starts its flush timer.
func NewFindingWriter(client *ClickHouseClient, cfg FindingWriterConfig, logger *slog.Logger) *FindingWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	w := &FindingWriter{
		client:    client,
		config:    cfg,
		logger:    logger.With("component", "finding_writer"),
		anomalies: make([]*behavior.Anomaly, 0, cfg.BatchSize),
		matches:   make([]*pattern.Match, 0, cfg.BatchSize),
	}
	w.insertAnomalies = w.insertAnomalyBatch
	w.insertMatches = w.insertMatchBatch
	w.flushTimer = time.AfterFunc(cfg.FlushInterval, w.timerFlush)
	return w
}

// WriteAnomaly buffers an anomaly with sensitive detail values masked.
// Satisfies behavior.AnomalyHandler.
func (w *FindingWriter) WriteAnomaly(_ context.Context, anomaly *behavior.Anomaly) error {
	if anomaly.Details != nil {
		masked := *anomaly
		masked.Details = logging.MaskMetadata(anomaly.Details)
		anomaly = &masked
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("finding writer is closed")
	}
	w.anomalies = append(w.anomalies, anomaly)
	if len(w.anomalies) >= w.config.BatchSize {
		return w.flushAnomaliesLocked()
	}
	return nil
}

// WriteMatch buffers a pattern match. Satisfies pattern.MatchHandler.
func (w *FindingWriter) WriteMatch(_ context.Context, match *pattern.Match) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("finding writer is closed")
	}
	w.matches = append(w.matches, match)
	if len(w.matches) >= w.config.BatchSize {
		return w.flushMatchesLocked()
	}
	return nil
}

func (w *FindingWriter) timerFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.flushAnomaliesLocked(); err != nil {
		w.logger.Error("anomaly flush failed", "error", err)
	}
	if err := w.flushMatchesLocked(); err != nil {
		w.logger.Error("match flush failed", "error", err)
	}
	w.flushTimer.Reset(w.config.FlushInterval)
}

func (w *FindingWriter) flushAnomaliesLocked() error {
	if len(w.anomalies) == 0 {
		return nil
	}
	batch := w.anomalies
	w.anomalies = make([]*behavior.Anomaly, 0, w.config.BatchSize)
	return w.withRetries(len(batch), func(ctx context.Context) error {
		return w.insertAnomalies(ctx, batch)
	})
}

func (w *FindingWriter) flushMatchesLocked() error {
	if len(w.matches) == 0 {
		return nil
	}
	batch := w.matches
	w.matches = make([]*pattern.Match, 0, w.config.BatchSize)
	return w.withRetries(len(batch), func(ctx context.Context) error {
		return w.insertMatches(ctx, batch)
	})
}

func (w *FindingWriter) withRetries(count int, insert func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.config.RetryDelay * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := insert(ctx)
		cancel()
		if err != nil {
			lastErr = err
			w.logger.Warn("batch insert failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}
		atomic.AddUint64(&w.written, uint64(count))
		return nil
	}
	atomic.AddUint64(&w.failed, uint64(count))
	return fmt.Errorf("batch insert failed after %d retries: %w", w.config.MaxRetries, lastErr)
}

func (w *FindingWriter) insertAnomalyBatch(ctx context.Context, anomalies []*behavior.Anomaly) error {
	batch, err := w.client.PrepareBatch(ctx, `
		INSERT INTO anomalies (
			id, user_id, type, severity, confidence, details, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, a := range anomalies {
		details, _ := json.Marshal(a.Details)
		if err := batch.Append(
			a.ID,
			a.UserID,
			a.Type,
			string(a.Severity),
			a.Confidence,
			string(details),
			a.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append anomaly: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (w *FindingWriter) insertMatchBatch(ctx context.Context, matches []*pattern.Match) error {
	batch, err := w.client.PrepareBatch(ctx, `
		INSERT INTO pattern_matches (
			id, pattern_id, pattern_name, severity, category,
			confidence, event_count, sample_events, condition_results, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, m := range matches {
		samples, _ := json.Marshal(m.SampleEvents)
		results, _ := json.Marshal(m.ConditionResults)
		if err := batch.Append(
			m.ID,
			m.PatternID,
			m.PatternName,
			string(m.Severity),
			m.Category,
			m.Confidence,
			uint32(m.EventCount),
			string(samples),
			string(results),
			m.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append match: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Flush forces both buffers to be written.
func (w *FindingWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAnomaliesLocked(); err != nil {
		return err
	}
	return w.flushMatchesLocked()
}

// Close stops the timer and flushes remaining findings.
func (w *FindingWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.flushTimer.Stop()
	errA := w.flushAnomaliesLocked()
	errM := w.flushMatchesLocked()
	w.closed = true
	w.mu.Unlock()

	if errA != nil {
		return errA
	}
	return errM
}

// Metrics returns written and failed finding counts plus pending depth.
func (w *FindingWriter) Metrics() FindingWriterMetrics {
	w.mu.Lock()
	pending := len(w.anomalies) + len(w.matches)
	w.mu.Unlock()
	return FindingWriterMetrics{
		Written: atomic.LoadUint64(&w.written),
		Failed:  atomic.LoadUint64(&w.failed),
		Pending: pending,
	}
}

// FindingWriterMetrics holds finding writer statistics.
type FindingWriterMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}
