package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mathsnotes/server/internal/config"
)

// SharedPool is the single PostgreSQL pool handed to every Postgres-backed
// component (currently the catalog source).
type SharedPool struct {
	db *sql.DB
}

// Open connects, pings within timeout and applies the pool settings.
func Open(ctx context.Context, dsn string, pool config.PostgresPoolConfig, timeout time.Duration) (*SharedPool, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, pool)
	return &SharedPool{db: db}, nil
}

// FromDB wraps an existing handle, mainly for tests.
func FromDB(db *sql.DB) *SharedPool {
	return &SharedPool{db: db}
}

// DB returns the underlying handle.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
