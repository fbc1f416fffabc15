package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// Migration is a single named schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations are applied in order. Append only.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_anomalies",
		SQL: `
			CREATE TABLE IF NOT EXISTS anomalies (
				id UUID,
				user_id String,
				type LowCardinality(String),
				severity LowCardinality(String),
				confidence Float64,
				details String,
				timestamp DateTime64(3, 'UTC')
			)
			ENGINE = MergeTree()
			PARTITION BY toYYYYMM(timestamp)
			ORDER BY (user_id, timestamp)
			TTL toDateTime(timestamp) + INTERVAL 90 DAY
		`,
	},
	{
		Version: 2,
		Name:    "create_pattern_matches",
		SQL: `
			CREATE TABLE IF NOT EXISTS pattern_matches (
				id UUID,
				pattern_id LowCardinality(String),
				pattern_name String,
				severity LowCardinality(String),
				category LowCardinality(String),
				confidence Float64,
				event_count UInt32,
				sample_events String,
				condition_results String,
				timestamp DateTime64(3, 'UTC')
			)
			ENGINE = MergeTree()
			PARTITION BY toYYYYMM(timestamp)
			ORDER BY (pattern_id, timestamp)
			TTL toDateTime(timestamp) + INTERVAL 90 DAY
		`,
	},
	{
		Version: 3,
		Name:    "create_schema_migrations",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version UInt32,
				name String,
				applied_at DateTime DEFAULT now()
			)
			ENGINE = MergeTree()
			ORDER BY version
		`,
	},
}

// Migrator applies the schema migrations.
type Migrator struct {
	client *ClickHouseClient
	logger *slog.Logger
}

// NewMigrator creates a migrator.
func NewMigrator(client *ClickHouseClient, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{client: client, logger: logger}
}

// Migrate ensures the database exists and applies all migrations. Every
// statement is idempotent, so reapplying is safe.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.client.EnsureDatabase(ctx); err != nil {
		return fmt.Errorf("failed to ensure database: %w", err)
	}

	for _, mig := range migrations {
		if err := m.client.Exec(ctx, mig.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		m.logger.Debug("applied migration", "version", mig.Version, "name", mig.Name)
	}

	m.logger.Info("schema migrations applied", "count", len(migrations))
	return nil
}

// Migrations returns the defined migrations, for inspection.
func Migrations() []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	return out
}
