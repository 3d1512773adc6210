package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
)

const queryTimeoutList = 10 * time.Second

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Schema for the postgres catalog table.
const Schema = `
CREATE TABLE IF NOT EXISTS %s (
	key          TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	price_cents  BIGINT NOT NULL CHECK (price_cents >= 0),
	pages        TEXT NOT NULL DEFAULT '',
	topics       TEXT NOT NULL DEFAULT '',
	file_type    TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresSource reads active rows from a catalog table.
type PostgresSource struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresSource creates a source over db. An empty table defaults to
// "catalog_items".
func NewPostgresSource(db *sql.DB, table string, m *metrics.Metrics) (*PostgresSource, error) {
	if table == "" {
		table = "catalog_items"
	}
	if !validTableNameRegex.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores only)", table)
	}
	return &PostgresSource{db: db, tableName: table, metrics: m}, nil
}

// Name implements Source.
func (s *PostgresSource) Name() string { return "postgres" }

// EnsureSchema creates the table when missing.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(Schema, pq.QuoteIdentifier(s.tableName))); err != nil {
		return fmt.Errorf("create catalog table: %w", err)
	}
	return nil
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context) ([]Item, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_catalog", "postgres")()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, queryTimeoutList)
		defer cancel()
	}

	query := fmt.Sprintf(`
		SELECT key, title, description, price_cents, pages, topics, file_type, updated_at
		FROM %s
		WHERE active = TRUE
		ORDER BY key`, pq.QuoteIdentifier(s.tableName))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it    Item
			cents int64
		)
		if err := rows.Scan(&it.Key, &it.Title, &it.Description, &cents, &it.Pages, &it.Topics, &it.FileType, &it.LastModified); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		it.Price = money.Cents(cents)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return items, nil
}

// Upsert writes one item and marks it active.
func (s *PostgresSource) Upsert(ctx context.Context, it Item) error {
	defer metrics.MeasureDBQuery(s.metrics, "upsert_catalog", "postgres")()

	query := fmt.Sprintf(`
		INSERT INTO %s (key, title, description, price_cents, pages, topics, file_type, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW())
		ON CONFLICT (key) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			price_cents = EXCLUDED.price_cents,
			pages = EXCLUDED.pages,
			topics = EXCLUDED.topics,
			file_type = EXCLUDED.file_type,
			active = TRUE,
			updated_at = NOW()`, pq.QuoteIdentifier(s.tableName))

	if _, err := s.db.ExecContext(ctx, query, it.Key, it.Title, it.Description, int64(it.Price), it.Pages, it.Topics, it.FileType); err != nil {
		return fmt.Errorf("upsert catalog item %s: %w", it.Key, err)
	}
	return nil
}
