package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Database drivers. pgx registers "pgx" via its stdlib adapter,
	// modernc registers "sqlite", go-sql-driver registers "mysql".
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/esap-cc/shortlinker/internal/metrics"
)

const defaultOpTimeout = 5 * time.Second

// Backend is the storage backend over database/sql. It exclusively owns
// the connection pool; other components borrow it through the core
// interfaces.
type Backend struct {
	db        *sql.DB
	dialect   Dialect
	logger    *slog.Logger
	retry     RetryConfig
	opTimeout time.Duration

	countCache *countCache
}

// Options tunes pool sizing and per-operation timeouts.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	OpTimeout    time.Duration
	Retry        RetryConfig
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		OpTimeout:    defaultOpTimeout,
		Retry:        DefaultRetryConfig(),
	}
}

// Open connects to the configured backend, tunes the pool and ensures
// the schema exists. backendName is the STORAGE_BACKEND token, dsn the
// DATABASE_URL value.
func Open(ctx context.Context, backendName, dsn string, opts Options, logger *slog.Logger) (*Backend, error) {
	dialect, err := NewDialect(backendName)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open(dialect.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, opts.OpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", dialect.Name(), err)
	}

	b := &Backend{
		db:         db,
		dialect:    dialect,
		logger:     logger,
		retry:      opts.Retry,
		opTimeout:  opts.OpTimeout,
		countCache: newCountCache(30 * time.Second),
	}

	if err := b.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema initialization failed: %w", err)
	}

	logger.Info("Storage backend initialized",
		"backend", dialect.Name(),
	)
	return b, nil
}

// Dialect exposes the dialect token to the rollup writer and analytics
// date bucketing.
func (b *Backend) Dialect() Dialect {
	return b.dialect
}

// DB hands a read-only handle to components that issue their own queries
// (config store, rollup writer). The pool stays owned by the backend.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Logger returns the backend's structured logger.
func (b *Backend) Logger() *slog.Logger {
	return b.logger
}

// Retry returns the configured retry policy so collaborating writers use
// the same backoff.
func (b *Backend) Retry() RetryConfig {
	return b.retry
}

// Close shuts the connection pool down.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()
	return b.db.PingContext(ctx)
}

// opContext bounds a single storage operation.
func (b *Backend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.opTimeout)
}

// rebind converts ? placeholders to the dialect's native style.
func (b *Backend) rebind(query string) string {
	return b.dialect.Rebind(query)
}

// observe records a storage operation duration metric.
func observe(op string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ensureSchema creates all tables and indexes. Statements are idempotent
// on SQLite/PostgreSQL; MySQL lacks CREATE INDEX IF NOT EXISTS, so
// duplicate-object errors are tolerated there.
func (b *Backend) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range b.dialect.Schema() {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func isDuplicateObject(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "duplicate column")
}
