// Package storage implements the persistent store for short links,
// configuration and click analytics over database/sql with pluggable
// SQL dialects (SQLite, PostgreSQL, MySQL).
package storage

import (
	"fmt"
	"strings"
)

// DialectName is the backend token selected via STORAGE_BACKEND.
type DialectName string

const (
	DialectSQLite   DialectName = "sqlite"
	DialectPostgres DialectName = "postgres"
	DialectMySQL    DialectName = "mysql"
)

// Dialect abstracts the SQL-family differences: placeholder style,
// upsert clauses and date-bucket expressions. Queries in this package are
// written with ? placeholders and rebound per dialect.
type Dialect interface {
	Name() DialectName
	Driver() string
	// Rebind converts ? placeholders to the dialect's native style.
	Rebind(query string) string
	// Schema returns the DDL statements creating all tables and indexes.
	Schema() []string
	// LinkUpsertClause completes "INSERT INTO short_links (...) VALUES (...)"
	// so that conflicts on code update target/expires_at/password while
	// preserving created_at and click_count.
	LinkUpsertClause() string
	// HourlyUpsertClause accumulates click_count on (code, hour_bucket).
	HourlyUpsertClause() string
	// DailyUpsertClause accumulates click_count on (code, day_bucket).
	DailyUpsertClause() string
	// GlobalHourlyUpsertClause accumulates total_clicks and overwrites
	// unique_links on hour_bucket.
	GlobalHourlyUpsertClause() string
	// ConfigInsertIgnoreClause makes a config insert a no-op on existing key.
	ConfigInsertIgnoreClause() string
	// UAUpsertClause accumulates hits and refreshes last_seen on user_agent.
	UAUpsertClause() string
	// DateBucketExpr formats column col into a bucket string for
	// group_by in {hour, day, week, month}. Weeks are ISO weeks.
	DateBucketExpr(col, groupBy string) string
}

// NewDialect resolves a backend token to its dialect.
func NewDialect(name string) (Dialect, error) {
	switch DialectName(strings.ToLower(name)) {
	case DialectSQLite:
		return sqliteDialect{}, nil
	case DialectPostgres:
		return postgresDialect{}, nil
	case DialectMySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (expected sqlite, postgres or mysql)", name)
	}
}

// rebindDollar rewrites ? placeholders as $1..$N for PostgreSQL.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(fmt.Sprintf("%d", n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type sqliteDialect struct{}

func (sqliteDialect) Name() DialectName     { return DialectSQLite }
func (sqliteDialect) Driver() string        { return "sqlite" }
func (sqliteDialect) Rebind(q string) string { return q }

func (sqliteDialect) LinkUpsertClause() string {
	return "ON CONFLICT(code) DO UPDATE SET target = excluded.target, expires_at = excluded.expires_at, password = excluded.password"
}

func (sqliteDialect) HourlyUpsertClause() string {
	return "ON CONFLICT(code, hour_bucket) DO UPDATE SET click_count = click_count + excluded.click_count"
}

func (sqliteDialect) DailyUpsertClause() string {
	return "ON CONFLICT(code, day_bucket) DO UPDATE SET click_count = click_count + excluded.click_count"
}

func (sqliteDialect) GlobalHourlyUpsertClause() string {
	return "ON CONFLICT(hour_bucket) DO UPDATE SET total_clicks = total_clicks + excluded.total_clicks, unique_links = excluded.unique_links"
}

func (sqliteDialect) ConfigInsertIgnoreClause() string {
	return "ON CONFLICT(config_key) DO NOTHING"
}

func (sqliteDialect) UAUpsertClause() string {
	return "ON CONFLICT(user_agent) DO UPDATE SET last_seen = excluded.last_seen, hits = hits + excluded.hits"
}

func (sqliteDialect) DateBucketExpr(col, groupBy string) string {
	// The driver stores bound time.Time values as Go's default string
	// form ("2006-01-02 15:04:05.999999999 -0700 MST"), whose zone suffix
	// strftime cannot parse. Stored times are UTC, so only the leading
	// date and time are handed to strftime.
	col = "substr(" + col + ", 1, 19)"
	switch groupBy {
	case "hour":
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:00:00Z', %s)", col)
	case "week":
		return fmt.Sprintf("strftime('%%G-W%%V', %s)", col)
	case "month":
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", col)
	default: // day
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", col)
	}
}

func (sqliteDialect) Schema() []string {
	return schemaStatements("INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", "INTEGER", true)
}

type postgresDialect struct{}

func (postgresDialect) Name() DialectName      { return DialectPostgres }
func (postgresDialect) Driver() string         { return "pgx" }
func (postgresDialect) Rebind(q string) string { return rebindDollar(q) }

func (postgresDialect) LinkUpsertClause() string {
	return "ON CONFLICT(code) DO UPDATE SET target = excluded.target, expires_at = excluded.expires_at, password = excluded.password"
}

func (postgresDialect) HourlyUpsertClause() string {
	return "ON CONFLICT(code, hour_bucket) DO UPDATE SET click_count = click_stats_hourly.click_count + excluded.click_count"
}

func (postgresDialect) DailyUpsertClause() string {
	return "ON CONFLICT(code, day_bucket) DO UPDATE SET click_count = click_stats_daily.click_count + excluded.click_count"
}

func (postgresDialect) GlobalHourlyUpsertClause() string {
	return "ON CONFLICT(hour_bucket) DO UPDATE SET total_clicks = click_stats_global_hourly.total_clicks + excluded.total_clicks, unique_links = excluded.unique_links"
}

func (postgresDialect) ConfigInsertIgnoreClause() string {
	return "ON CONFLICT(config_key) DO NOTHING"
}

func (postgresDialect) UAUpsertClause() string {
	return "ON CONFLICT(user_agent) DO UPDATE SET last_seen = excluded.last_seen, hits = user_agent.hits + excluded.hits"
}

func (postgresDialect) DateBucketExpr(col, groupBy string) string {
	switch groupBy {
	case "hour":
		return fmt.Sprintf(`to_char(%s, 'YYYY-MM-DD"T"HH24:00:00"Z"')`, col)
	case "week":
		return fmt.Sprintf(`to_char(%s, 'IYYY-"W"IW')`, col)
	case "month":
		return fmt.Sprintf(`to_char(%s, 'YYYY-MM')`, col)
	default:
		return fmt.Sprintf(`to_char(%s, 'YYYY-MM-DD')`, col)
	}
}

func (postgresDialect) Schema() []string {
	return schemaStatements("BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "BOOLEAN", true)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() DialectName      { return DialectMySQL }
func (mysqlDialect) Driver() string         { return "mysql" }
func (mysqlDialect) Rebind(q string) string { return q }

func (mysqlDialect) LinkUpsertClause() string {
	return "ON DUPLICATE KEY UPDATE target = VALUES(target), expires_at = VALUES(expires_at), password = VALUES(password)"
}

func (mysqlDialect) HourlyUpsertClause() string {
	return "ON DUPLICATE KEY UPDATE click_count = click_count + VALUES(click_count)"
}

func (mysqlDialect) DailyUpsertClause() string {
	return "ON DUPLICATE KEY UPDATE click_count = click_count + VALUES(click_count)"
}

func (mysqlDialect) GlobalHourlyUpsertClause() string {
	return "ON DUPLICATE KEY UPDATE total_clicks = total_clicks + VALUES(total_clicks), unique_links = VALUES(unique_links)"
}

func (mysqlDialect) ConfigInsertIgnoreClause() string {
	return "ON DUPLICATE KEY UPDATE config_key = config_key"
}

func (mysqlDialect) UAUpsertClause() string {
	return "ON DUPLICATE KEY UPDATE last_seen = VALUES(last_seen), hits = hits + VALUES(hits)"
}

func (mysqlDialect) DateBucketExpr(col, groupBy string) string {
	switch groupBy {
	case "hour":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%dT%%H:00:00Z')", col)
	case "week":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%x-W%%v')", col)
	case "month":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m')", col)
	default:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", col)
	}
}

func (mysqlDialect) Schema() []string {
	// MySQL has no CREATE INDEX IF NOT EXISTS; duplicate-name errors on
	// re-run are tolerated by the schema bootstrap instead.
	return schemaStatements("BIGINT PRIMARY KEY AUTO_INCREMENT", "DATETIME", "BOOLEAN", false)
}

// schemaStatements builds the shared DDL with dialect-specific tokens for
// auto-increment primary keys, timestamps and booleans. Column names are
// identical across dialects so queries stay dialect-agnostic.
func schemaStatements(autoPK, ts, boolType string, idempotentIndexes bool) []string {
	ifNotExists := ""
	if idempotentIndexes {
		ifNotExists = "IF NOT EXISTS "
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS short_links (
			code VARCHAR(64) PRIMARY KEY,
			target TEXT NOT NULL,
			created_at %s NOT NULL,
			expires_at %s NULL,
			password TEXT NULL,
			click_count BIGINT NOT NULL DEFAULT 0,
			CHECK (click_count >= 0)
		)`, ts, ts),
		"CREATE INDEX " + ifNotExists + "idx_short_links_expires_at ON short_links (expires_at)",
		"CREATE INDEX " + ifNotExists + "idx_short_links_created_at ON short_links (created_at)",
		// config_key instead of "key": KEY is reserved in MySQL.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS system_config (
			config_key VARCHAR(128) PRIMARY KEY,
			value TEXT NOT NULL,
			value_type VARCHAR(16) NOT NULL,
			requires_restart %s NOT NULL DEFAULT FALSE,
			is_sensitive %s NOT NULL DEFAULT FALSE,
			updated_at %s NOT NULL
		)`, boolType, boolType, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS config_history (
			id %s,
			config_key VARCHAR(128) NOT NULL,
			old_value TEXT NULL,
			new_value TEXT NOT NULL,
			changed_at %s NOT NULL,
			changed_by VARCHAR(128) NULL
		)`, autoPK, ts),
		"CREATE INDEX " + ifNotExists + "idx_config_history_key ON config_history (config_key)",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS click_log (
			id %s,
			code VARCHAR(64) NOT NULL,
			ts %s NOT NULL,
			referrer TEXT NULL,
			user_agent TEXT NULL,
			ip VARCHAR(64) NULL,
			country VARCHAR(8) NULL,
			city VARCHAR(128) NULL,
			utm_source VARCHAR(128) NULL
		)`, autoPK, ts),
		"CREATE INDEX " + ifNotExists + "idx_click_log_code_ts ON click_log (code, ts)",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS click_stats_hourly (
			id %s,
			code VARCHAR(64) NOT NULL,
			hour_bucket %s NOT NULL,
			click_count BIGINT NOT NULL DEFAULT 0,
			referrer_counts TEXT NULL,
			country_counts TEXT NULL,
			source_counts TEXT NULL,
			CONSTRAINT uq_hourly UNIQUE (code, hour_bucket)
		)`, autoPK, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS click_stats_daily (
			id %s,
			code VARCHAR(64) NOT NULL,
			day_bucket %s NOT NULL,
			click_count BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT uq_daily UNIQUE (code, day_bucket)
		)`, autoPK, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS click_stats_global_hourly (
			hour_bucket %s PRIMARY KEY,
			total_clicks BIGINT NOT NULL DEFAULT 0,
			unique_links BIGINT NOT NULL DEFAULT 0
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_agent (
			id %s,
			user_agent VARCHAR(512) NOT NULL,
			first_seen %s NOT NULL,
			last_seen %s NOT NULL,
			hits BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT uq_user_agent UNIQUE (user_agent)
		)`, autoPK, ts, ts),
	}
}
