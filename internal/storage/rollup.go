package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// detailUpdateChunk bounds CASE-WHEN update batches so parameter counts
// stay well under every dialect's limit.
const detailUpdateChunk = 100

// RollupWriter upserts the hourly, daily and global click aggregates.
// It shares the backend's pool, dialect and retry policy; the op prefix
// on each call distinguishes flusher writes from backfill jobs in logs
// and metrics.
type RollupWriter struct {
	b *Backend
}

// NewRollupWriter binds a writer to the backend.
func NewRollupWriter(b *Backend) *RollupWriter {
	return &RollupWriter{b: b}
}

// UpsertHourlyCounts applies counter-only deltas for one hour bucket in
// a single multi-row upsert.
func (w *RollupWriter) UpsertHourlyCounts(ctx context.Context, updates map[string]int64, ts time.Time, opPrefix string) error {
	if len(updates) == 0 {
		return nil
	}
	opName := opPrefix + "_upsert_hourly_counts"
	start := time.Now()
	defer observe(opName, start)

	bucket := core.TruncateToHour(ts)
	codes := sortedKeys(updates)

	var sb strings.Builder
	sb.WriteString("INSERT INTO click_stats_hourly (code, hour_bucket, click_count) VALUES ")
	args := make([]any, 0, len(codes)*3)
	for i, code := range codes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, code, bucket, updates[code])
	}
	sb.WriteString(" " + w.b.dialect.HourlyUpsertClause())

	query := w.b.rebind(sb.String())
	err := withRetry(ctx, w.b.logger, w.b.retry, opName, func() error {
		opCtx, cancel := w.b.opContext(ctx)
		defer cancel()
		_, err := w.b.db.ExecContext(opCtx, query, args...)
		return err
	})
	if err != nil {
		return err
	}
	w.b.logger.Debug("Hourly counts updated",
		"op", opPrefix, "links", len(updates), "bucket", bucket)
	return nil
}

// UpsertDailyCounts applies counter-only deltas to the daily rollup.
func (w *RollupWriter) UpsertDailyCounts(ctx context.Context, updates map[string]int64, ts time.Time, opPrefix string) error {
	if len(updates) == 0 {
		return nil
	}
	opName := opPrefix + "_upsert_daily_counts"
	start := time.Now()
	defer observe(opName, start)

	bucket := core.TruncateToDay(ts)
	codes := sortedKeys(updates)

	var sb strings.Builder
	sb.WriteString("INSERT INTO click_stats_daily (code, day_bucket, click_count) VALUES ")
	args := make([]any, 0, len(codes)*3)
	for i, code := range codes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, code, bucket, updates[code])
	}
	sb.WriteString(" " + w.b.dialect.DailyUpsertClause())

	query := w.b.rebind(sb.String())
	return withRetry(ctx, w.b.logger, w.b.retry, opName, func() error {
		opCtx, cancel := w.b.opContext(ctx)
		defer cancel()
		_, err := w.b.db.ExecContext(opCtx, query, args...)
		return err
	})
}

// UpsertGlobalHourly accumulates the instance-wide totals for one hour:
// total_clicks is additive, unique_links is last-writer-wins.
func (w *RollupWriter) UpsertGlobalHourly(ctx context.Context, hourBucket time.Time, clicks, uniqueLinks int64, opPrefix string) error {
	if clicks == 0 && uniqueLinks == 0 {
		return nil
	}
	opName := opPrefix + "_upsert_global_hourly"
	start := time.Now()
	defer observe(opName, start)

	query := w.b.rebind("INSERT INTO click_stats_global_hourly (hour_bucket, total_clicks, unique_links) VALUES (?, ?, ?) " +
		w.b.dialect.GlobalHourlyUpsertClause())

	return withRetry(ctx, w.b.logger, w.b.retry, opName, func() error {
		opCtx, cancel := w.b.opContext(ctx)
		defer cancel()
		_, err := w.b.db.ExecContext(opCtx, query,
			core.TruncateToHour(hourBucket), clicks, uniqueLinks)
		return err
	})
}

// hourlyRow mirrors one click_stats_hourly record during the
// read-modify-write detail merge.
type hourlyRow struct {
	id         int64
	clickCount int64
	agg        *core.ClickAggregation
}

// UpsertHourlyWithDetails merges detailed aggregations into the hourly
// rollup. The *_counts columns hold JSON objects, and SQL JSON-merge
// support is uneven across dialects, so the merge happens here: existing
// rows are batch-fetched, merged in memory, then split into multi-row
// inserts and chunked CASE-WHEN updates.
func (w *RollupWriter) UpsertHourlyWithDetails(ctx context.Context, aggregated map[core.AggKey]*core.ClickAggregation, opPrefix string) error {
	if len(aggregated) == 0 {
		return nil
	}
	start := time.Now()
	defer observe(opPrefix+"_upsert_hourly_detailed", start)

	keys := make([]core.AggKey, 0, len(aggregated))
	for k := range aggregated {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Code != keys[j].Code {
			return keys[i].Code < keys[j].Code
		}
		return keys[i].HourBucket.Before(keys[j].HourBucket)
	})

	existing, err := w.fetchHourlyRows(ctx, keys)
	if err != nil {
		return err
	}

	var toInsert []core.AggKey
	var toUpdate []hourlyRow
	for _, key := range keys {
		agg := aggregated[key]
		if row, ok := existing[key]; ok {
			merged := core.NewClickAggregation()
			if row.agg != nil {
				merged.Merge(row.agg)
			}
			merged.Merge(agg)
			toUpdate = append(toUpdate, hourlyRow{
				id:         row.id,
				clickCount: row.clickCount + agg.Count,
				agg:        merged,
			})
		} else {
			toInsert = append(toInsert, key)
		}
	}

	if len(toInsert) > 0 {
		if err := w.insertDetailed(ctx, toInsert, aggregated, opPrefix); err != nil {
			return err
		}
	}
	for i := 0; i < len(toUpdate); i += detailUpdateChunk {
		end := i + detailUpdateChunk
		if end > len(toUpdate) {
			end = len(toUpdate)
		}
		if err := w.updateDetailed(ctx, toUpdate[i:end], opPrefix); err != nil {
			return err
		}
	}

	w.b.logger.Debug("Detailed hourly rollup updated",
		"op", opPrefix,
		"records", len(aggregated),
		"inserted", len(toInsert),
		"updated", len(toUpdate),
	)
	return nil
}

// fetchHourlyRows batch-selects existing rollup rows for the keys.
func (w *RollupWriter) fetchHourlyRows(ctx context.Context, keys []core.AggKey) (map[core.AggKey]hourlyRow, error) {
	out := make(map[core.AggKey]hourlyRow, len(keys))

	for i := 0; i < len(keys); i += detailUpdateChunk {
		end := i + detailUpdateChunk
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[i:end]

		conds := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for j, key := range chunk {
			conds[j] = "(code = ? AND hour_bucket = ?)"
			args = append(args, key.Code, key.HourBucket)
		}
		query := "SELECT id, code, hour_bucket, click_count, " +
			"COALESCE(referrer_counts, ''), COALESCE(country_counts, ''), COALESCE(source_counts, '') " +
			"FROM click_stats_hourly WHERE " + strings.Join(conds, " OR ")

		opCtx, cancel := w.b.opContext(ctx)
		rows, err := w.b.db.QueryContext(opCtx, w.b.rebind(query), args...)
		if err != nil {
			cancel()
			return nil, core.NewTransientStorageError("failed to fetch hourly rollup rows", err)
		}
		for rows.Next() {
			var (
				row                 hourlyRow
				code                string
				bucket              time.Time
				refs, geos, sources string
			)
			if err := rows.Scan(&row.id, &code, &bucket, &row.clickCount, &refs, &geos, &sources); err != nil {
				rows.Close()
				cancel()
				return nil, core.NewPermanentStorageError("failed to scan hourly rollup row", err)
			}
			row.agg = decodeAggregation(refs, geos, sources, w.b.logger.Warn)
			out[core.AggKey{Code: code, HourBucket: bucket.UTC()}] = row
		}
		err = rows.Err()
		rows.Close()
		cancel()
		if err != nil {
			return nil, core.NewTransientStorageError("failed reading hourly rollup rows", err)
		}
	}
	return out, nil
}

func (w *RollupWriter) insertDetailed(ctx context.Context, keys []core.AggKey, aggregated map[core.AggKey]*core.ClickAggregation, opPrefix string) error {
	opName := opPrefix + "_insert_hourly_detailed"

	var sb strings.Builder
	sb.WriteString("INSERT INTO click_stats_hourly (code, hour_bucket, click_count, referrer_counts, country_counts, source_counts) VALUES ")
	args := make([]any, 0, len(keys)*6)
	for i, key := range keys {
		agg := aggregated[key]
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, key.Code, key.HourBucket, agg.Count,
			encodeCounts(agg.Referrers), encodeCounts(agg.Countries), encodeCounts(agg.Sources))
	}

	query := w.b.rebind(sb.String())
	return withRetry(ctx, w.b.logger, w.b.retry, opName, func() error {
		opCtx, cancel := w.b.opContext(ctx)
		defer cancel()
		_, err := w.b.db.ExecContext(opCtx, query, args...)
		return err
	})
}

// updateDetailed rewrites merged rows with one CASE-WHEN-per-column
// update keyed by id.
func (w *RollupWriter) updateDetailed(ctx context.Context, rows []hourlyRow, opPrefix string) error {
	opName := opPrefix + "_update_hourly_detailed"

	columns := []struct {
		name  string
		value func(hourlyRow) any
	}{
		{"click_count", func(r hourlyRow) any { return r.clickCount }},
		{"referrer_counts", func(r hourlyRow) any { return encodeCounts(r.agg.Referrers) }},
		{"country_counts", func(r hourlyRow) any { return encodeCounts(r.agg.Countries) }},
		{"source_counts", func(r hourlyRow) any { return encodeCounts(r.agg.Sources) }},
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("UPDATE click_stats_hourly SET ")
	for ci, col := range columns {
		if ci > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col.name + " = CASE id")
		for _, row := range rows {
			sb.WriteString(" WHEN ? THEN ?")
			args = append(args, row.id, col.value(row))
		}
		sb.WriteString(" ELSE " + col.name + " END")
	}
	sb.WriteString(" WHERE id IN (")
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, row.id)
	}
	sb.WriteString(")")

	query := w.b.rebind(sb.String())
	return withRetry(ctx, w.b.logger, w.b.retry, opName, func() error {
		opCtx, cancel := w.b.opContext(ctx)
		defer cancel()
		_, err := w.b.db.ExecContext(opCtx, query, args...)
		return err
	})
}

// encodeCounts renders a counts map as JSON, or NULL when empty.
func encodeCounts(m map[string]int64) any {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(data)
}

// decodeAggregation rebuilds an aggregation from the JSON columns.
// Malformed JSON is dropped with a warning instead of failing the flush.
func decodeAggregation(refs, geos, sources string, warn func(string, ...any)) *core.ClickAggregation {
	agg := core.NewClickAggregation()
	decode := func(raw, name string, dst map[string]int64) {
		if raw == "" {
			return
		}
		var m map[string]int64
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			warn("Dropping malformed rollup JSON", "column", name, "error", err)
			return
		}
		for k, v := range m {
			dst[k] = v
		}
	}
	decode(refs, "referrer_counts", agg.Referrers)
	decode(geos, "country_counts", agg.Countries)
	decode(sources, "source_counts", agg.Sources)
	return agg
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
