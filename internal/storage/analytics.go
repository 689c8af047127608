package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// TrendPoint is one bucketed click count.
type TrendPoint struct {
	Bucket string `json:"bucket"`
	Clicks int64  `json:"clicks"`
}

// NamedCount is a generic (name, count) analytics row.
type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// AnalyticsQuery narrows analytics reads. Code empty means all links.
// GroupBy is one of hour, day, week, month (ISO weeks).
type AnalyticsQuery struct {
	Code    string
	Start   time.Time
	End     time.Time
	GroupBy string
	Limit   int
}

func (q *AnalyticsQuery) normalize() {
	switch q.GroupBy {
	case "hour", "day", "week", "month":
	default:
		q.GroupBy = "day"
	}
	if q.Limit < 1 || q.Limit > 1000 {
		q.Limit = 10
	}
}

// ClickTrends returns bucketed click counts. With useRollup the hourly
// rollup table is aggregated (cheap, hour granularity or coarser);
// otherwise the raw click log is scanned.
func (b *Backend) ClickTrends(ctx context.Context, q AnalyticsQuery, useRollup bool) ([]TrendPoint, error) {
	q.normalize()
	start := time.Now()
	defer observe("click_trends", start)

	var query string
	args := []any{q.Start.UTC(), q.End.UTC()}
	if useRollup {
		bucket := b.dialect.DateBucketExpr("hour_bucket", q.GroupBy)
		query = "SELECT " + bucket + " AS bucket, SUM(click_count) FROM click_stats_hourly" +
			" WHERE hour_bucket >= ? AND hour_bucket < ?"
		if q.Code != "" {
			query += " AND code = ?"
			args = append(args, q.Code)
		}
	} else {
		bucket := b.dialect.DateBucketExpr("ts", q.GroupBy)
		query = "SELECT " + bucket + " AS bucket, COUNT(*) FROM click_log" +
			" WHERE ts >= ? AND ts < ?"
		if q.Code != "" {
			query += " AND code = ?"
			args = append(args, q.Code)
		}
	}
	query += " GROUP BY bucket ORDER BY bucket ASC"

	opCtx, cancel := b.opContext(ctx)
	defer cancel()
	rows, err := b.db.QueryContext(opCtx, b.rebind(query), args...)
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query click trends", err)
	}
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Bucket, &p.Clicks); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan trend point", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// TopLinks returns the most-clicked codes in the window.
func (b *Backend) TopLinks(ctx context.Context, q AnalyticsQuery, useRollup bool) ([]NamedCount, error) {
	q.normalize()
	start := time.Now()
	defer observe("top_links", start)

	var query string
	if useRollup {
		query = "SELECT code, SUM(click_count) AS clicks FROM click_stats_hourly" +
			" WHERE hour_bucket >= ? AND hour_bucket < ? GROUP BY code ORDER BY clicks DESC LIMIT ?"
	} else {
		query = "SELECT code, COUNT(*) AS clicks FROM click_log" +
			" WHERE ts >= ? AND ts < ? GROUP BY code ORDER BY clicks DESC LIMIT ?"
	}

	return b.namedCounts(ctx, query, q.Start.UTC(), q.End.UTC(), q.Limit)
}

// TopReferrers aggregates referrer sources. The rollup variant merges the
// JSON source_counts columns in memory because JSON aggregation support
// is uneven across dialects.
func (b *Backend) TopReferrers(ctx context.Context, q AnalyticsQuery, useRollup bool) ([]NamedCount, error) {
	q.normalize()
	start := time.Now()
	defer observe("top_referrers", start)

	if !useRollup {
		query := "SELECT COALESCE(referrer, ''), COUNT(*) AS clicks FROM click_log" +
			" WHERE ts >= ? AND ts < ?"
		args := []any{q.Start.UTC(), q.End.UTC()}
		if q.Code != "" {
			query += " AND code = ?"
			args = append(args, q.Code)
		}
		query += " GROUP BY referrer ORDER BY clicks DESC LIMIT ?"
		args = append(args, q.Limit)
		return b.namedCounts(ctx, query, args...)
	}
	return b.mergedJSONCounts(ctx, "source_counts", q)
}

// GeoBreakdown aggregates clicks by country.
func (b *Backend) GeoBreakdown(ctx context.Context, q AnalyticsQuery, useRollup bool) ([]NamedCount, error) {
	q.normalize()
	start := time.Now()
	defer observe("geo_breakdown", start)

	if !useRollup {
		query := "SELECT COALESCE(country, ''), COUNT(*) AS clicks FROM click_log" +
			" WHERE ts >= ? AND ts < ?"
		args := []any{q.Start.UTC(), q.End.UTC()}
		if q.Code != "" {
			query += " AND code = ?"
			args = append(args, q.Code)
		}
		query += " GROUP BY country ORDER BY clicks DESC LIMIT ?"
		args = append(args, q.Limit)
		return b.namedCounts(ctx, query, args...)
	}
	return b.mergedJSONCounts(ctx, "country_counts", q)
}

func (b *Backend) namedCounts(ctx context.Context, query string, args ...any) ([]NamedCount, error) {
	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	rows, err := b.db.QueryContext(opCtx, b.rebind(query), args...)
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query analytics counts", err)
	}
	defer rows.Close()

	var out []NamedCount
	for rows.Next() {
		var nc NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan analytics row", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// mergedJSONCounts reads the requested *_counts JSON column from the
// hourly rollups in range and merges the maps in memory.
func (b *Backend) mergedJSONCounts(ctx context.Context, column string, q AnalyticsQuery) ([]NamedCount, error) {
	query := "SELECT COALESCE(" + column + ", '') FROM click_stats_hourly WHERE hour_bucket >= ? AND hour_bucket < ?"
	args := []any{q.Start.UTC(), q.End.UTC()}
	if q.Code != "" {
		query += " AND code = ?"
		args = append(args, q.Code)
	}

	opCtx, cancel := b.opContext(ctx)
	defer cancel()
	rows, err := b.db.QueryContext(opCtx, b.rebind(query), args...)
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query rollup counts", err)
	}
	defer rows.Close()

	merged := make(map[string]int64)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan rollup counts", err)
		}
		if raw == "" {
			continue
		}
		var m map[string]int64
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			b.logger.Warn("Skipping malformed rollup counts", "column", column, "error", err)
			continue
		}
		for k, v := range m {
			merged[k] += v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewTransientStorageError("failed reading rollup counts", err)
	}

	out := make([]NamedCount, 0, len(merged))
	for k, v := range merged {
		out = append(out, NamedCount{Name: k, Count: v})
	}
	// Descending count, name as tiebreak for stable output.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// InsertClickDetails appends raw click events to the click log in one
// multi-row insert.
func (b *Backend) InsertClickDetails(ctx context.Context, details []core.ClickDetail) error {
	if len(details) == 0 {
		return nil
	}
	start := time.Now()
	defer observe("insert_click_details", start)

	var sb strings.Builder
	sb.WriteString("INSERT INTO click_log (code, ts, referrer, user_agent, ip, country, city, utm_source) VALUES ")
	args := make([]any, 0, len(details)*8)
	for i, d := range details {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, d.Code, d.Timestamp.UTC(),
			nullIfEmpty(d.Referrer), nullIfEmpty(d.UserAgent), nullIfEmpty(d.IP),
			nullIfEmpty(d.Country), nullIfEmpty(d.City), nullIfEmpty(d.UTMSource))
	}

	query := b.rebind(sb.String())
	return withRetry(ctx, b.logger, b.retry, "insert_click_details", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		_, err := b.db.ExecContext(opCtx, query, args...)
		return err
	})
}

// RecordUserAgents upserts user-agent hit counts seen in a flush.
func (b *Backend) RecordUserAgents(ctx context.Context, hits map[string]int64, now time.Time) error {
	if len(hits) == 0 {
		return nil
	}
	start := time.Now()
	defer observe("record_user_agents", start)

	var sb strings.Builder
	sb.WriteString("INSERT INTO user_agent (user_agent, first_seen, last_seen, hits) VALUES ")
	args := make([]any, 0, len(hits)*4)
	first := true
	for ua, n := range hits {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString("(?, ?, ?, ?)")
		if len(ua) > 512 {
			ua = ua[:512]
		}
		args = append(args, ua, now.UTC(), now.UTC(), n)
	}
	sb.WriteString(" " + b.dialect.UAUpsertClause())

	query := b.rebind(sb.String())
	return withRetry(ctx, b.logger, b.retry, "record_user_agents", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		_, err := b.db.ExecContext(opCtx, query, args...)
		return err
	})
}

// PruneClickLog deletes raw click events older than the retention
// window, returning the number of rows removed.
func (b *Backend) PruneClickLog(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	defer observe("prune_click_log", start)

	var affected int64
	err := withRetry(ctx, b.logger, b.retry, "prune_click_log", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		res, err := b.db.ExecContext(opCtx,
			b.rebind("DELETE FROM click_log WHERE ts < ?"), olderThan.UTC())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
