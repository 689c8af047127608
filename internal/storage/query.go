package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// batchChunkSize bounds IN-list sizes to stay clear of parameter limits.
const batchChunkSize = 500

const linkColumns = "code, target, created_at, expires_at, password, click_count"

func scanLink(scanner interface{ Scan(...any) error }) (*core.ShortLink, error) {
	var link core.ShortLink
	var expiresAt sql.NullTime
	var pass sql.NullString
	if err := scanner.Scan(&link.Code, &link.Target, &link.CreatedAt, &expiresAt, &pass, &link.Click); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		link.ExpiresAt = &t
	}
	link.CreatedAt = link.CreatedAt.UTC()
	link.Password = pass.String
	return &link, nil
}

// Get fetches a single link by code. Returns (nil, nil) when absent.
func (b *Backend) Get(ctx context.Context, code string) (*core.ShortLink, error) {
	if !core.IsValidCode(code) {
		return nil, core.NewValidationError("invalid short code: " + code)
	}
	start := time.Now()
	defer observe("get", start)

	ctx, cancel := b.opContext(ctx)
	defer cancel()

	row := b.db.QueryRowContext(ctx,
		b.rebind("SELECT "+linkColumns+" FROM short_links WHERE code = ?"), code)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query short link", err)
	}
	return link, nil
}

// BatchGet fetches links for the given codes with chunked IN-list
// queries. Missing codes are simply absent from the result map.
func (b *Backend) BatchGet(ctx context.Context, codes []string) (map[string]*core.ShortLink, error) {
	result := make(map[string]*core.ShortLink, len(codes))
	if len(codes) == 0 {
		return result, nil
	}
	for _, code := range codes {
		if !core.IsValidCode(code) {
			return nil, core.NewValidationError("invalid short code: " + code)
		}
	}
	start := time.Now()
	defer observe("batch_get", start)

	for chunk := range chunked(codes, batchChunkSize) {
		query := "SELECT " + linkColumns + " FROM short_links WHERE code IN (" + placeholders(len(chunk)) + ")"
		rows, err := b.db.QueryContext(ctx, b.rebind(query), toAnySlice(chunk)...)
		if err != nil {
			return nil, core.NewTransientStorageError("failed to batch-query short links", err)
		}
		for rows.Next() {
			link, err := scanLink(rows)
			if err != nil {
				rows.Close()
				return nil, core.NewPermanentStorageError("failed to scan short link", err)
			}
			result[link.Code] = link
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, core.NewTransientStorageError("failed reading short link rows", err)
		}
		rows.Close()
	}
	return result, nil
}

// BatchCheckCodesExist returns the subset of codes that already exist.
// Select-only; used by import conflict detection.
func (b *Backend) BatchCheckCodesExist(ctx context.Context, codes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(codes))
	if len(codes) == 0 {
		return existing, nil
	}
	for _, code := range codes {
		if !core.IsValidCode(code) {
			return nil, core.NewValidationError("invalid short code: " + code)
		}
	}
	start := time.Now()
	defer observe("batch_check_codes_exist", start)

	for chunk := range chunked(codes, batchChunkSize) {
		query := "SELECT code FROM short_links WHERE code IN (" + placeholders(len(chunk)) + ")"
		rows, err := b.db.QueryContext(ctx, b.rebind(query), toAnySlice(chunk)...)
		if err != nil {
			return nil, core.NewTransientStorageError("failed to check code existence", err)
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, core.NewPermanentStorageError("failed to scan code", err)
			}
			existing[code] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, core.NewTransientStorageError("failed reading code rows", err)
		}
		rows.Close()
	}
	return existing, nil
}

// LoadAll loads every link keyed by code; used by cache rebuilds on
// small and medium deployments.
func (b *Backend) LoadAll(ctx context.Context) (map[string]*core.ShortLink, error) {
	start := time.Now()
	defer observe("load_all", start)

	rows, err := b.db.QueryContext(ctx, "SELECT "+linkColumns+" FROM short_links")
	if err != nil {
		return nil, core.NewTransientStorageError("failed to load all short links", err)
	}
	defer rows.Close()

	links := make(map[string]*core.ShortLink)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, core.NewPermanentStorageError("failed to scan short link", err)
		}
		links[link.Code] = link
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewTransientStorageError("failed reading short link rows", err)
	}
	b.logger.Info("Loaded short links", "count", len(links))
	return links, nil
}

// LoadAllCodes loads only the code column, keeping bloom rebuilds cheap.
func (b *Backend) LoadAllCodes(ctx context.Context) ([]string, error) {
	start := time.Now()
	defer observe("load_all_codes", start)

	rows, err := b.db.QueryContext(ctx, "SELECT code FROM short_links")
	if err != nil {
		return nil, core.NewTransientStorageError("failed to load code list", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan code", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewTransientStorageError("failed reading code rows", err)
	}
	return codes, nil
}

// buildFilterWhere renders filter into a WHERE clause with ? placeholders.
func buildFilterWhere(filter core.LinkFilter, now time.Time) (string, []any) {
	var conds []string
	var args []any

	if filter.Search != "" {
		conds = append(conds, "(code LIKE ? OR target LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.CreatedAfter != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.OnlyExpired {
		conds = append(conds, "expires_at IS NOT NULL AND expires_at < ?")
		args = append(args, now)
	}
	if filter.OnlyActive {
		conds = append(conds, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, now)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListPaginated returns one page ordered by created_at DESC plus the
// total row count for the filter. The count comes from a short-lived
// per-filter cache so page navigation doesn't re-count every request.
func (b *Backend) ListPaginated(ctx context.Context, filter core.LinkFilter, page, pageSize int) ([]*core.ShortLink, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 20
	}
	start := time.Now()
	defer observe("list_paginated", start)

	now := time.Now().UTC()
	where, args := buildFilterWhere(filter, now)

	total, cached := b.countCache.get(filterFingerprint(filter))
	if !cached {
		countCtx, cancel := b.opContext(ctx)
		row := b.db.QueryRowContext(countCtx, b.rebind("SELECT COUNT(*) FROM short_links"+where), args...)
		err := row.Scan(&total)
		cancel()
		if err != nil {
			return nil, 0, core.NewTransientStorageError("failed to count short links", err)
		}
		b.countCache.set(filterFingerprint(filter), total)
	}

	query := "SELECT " + linkColumns + " FROM short_links" + where +
		" ORDER BY created_at DESC, code ASC LIMIT ? OFFSET ?"
	pageArgs := append(append([]any{}, args...), pageSize, (page-1)*pageSize)

	ctx, cancel := b.opContext(ctx)
	defer cancel()
	rows, err := b.db.QueryContext(ctx, b.rebind(query), pageArgs...)
	if err != nil {
		return nil, 0, core.NewTransientStorageError("failed to list short links", err)
	}
	defer rows.Close()

	var links []*core.ShortLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, core.NewPermanentStorageError("failed to scan short link", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, core.NewTransientStorageError("failed reading short link rows", err)
	}
	return links, total, nil
}

// Stats returns the aggregate totals in one query.
func (b *Backend) Stats(ctx context.Context) (*core.LinkStats, error) {
	start := time.Now()
	defer observe("stats", start)

	ctx, cancel := b.opContext(ctx)
	defer cancel()

	query := `SELECT COUNT(*),
		COALESCE(SUM(click_count), 0),
		COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0)
		FROM short_links`
	row := b.db.QueryRowContext(ctx, b.rebind(query), time.Now().UTC())

	var stats core.LinkStats
	if err := row.Scan(&stats.TotalLinks, &stats.TotalClicks, &stats.ActiveLinks); err != nil {
		return nil, core.NewTransientStorageError("failed to query link stats", err)
	}
	return &stats, nil
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// chunked yields successive sub-slices of at most size elements.
func chunked(items []string, size int) func(func([]string) bool) {
	return func(yield func([]string) bool) {
		for i := 0; i < len(items); i += size {
			end := i + size
			if end > len(items) {
				end = len(items)
			}
			if !yield(items[i:end]) {
				return
			}
		}
	}
}
