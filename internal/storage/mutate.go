package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// Upsert inserts or updates a link. On conflict the dialect's upsert
// clause updates target, expires_at and password only, so created_at and
// click_count survive overwrites.
func (b *Backend) Upsert(ctx context.Context, link *core.ShortLink) error {
	if !core.IsValidCode(link.Code) {
		return core.NewValidationError("invalid short code: " + link.Code)
	}
	start := time.Now()
	defer observe("upsert", start)

	query := b.rebind("INSERT INTO short_links (code, target, created_at, expires_at, password, click_count) " +
		"VALUES (?, ?, ?, ?, ?, ?) " + b.dialect.LinkUpsertClause())

	var expiresAt any
	if link.ExpiresAt != nil {
		expiresAt = link.ExpiresAt.UTC()
	}
	var pass any
	if link.Password != "" {
		pass = link.Password
	}

	err := withRetry(ctx, b.logger, b.retry, "upsert", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		_, err := b.db.ExecContext(opCtx, query,
			link.Code, link.Target, link.CreatedAt.UTC(), expiresAt, pass, link.Click)
		return err
	})
	if err != nil {
		return err
	}
	b.countCache.invalidate()
	return nil
}

// Delete removes a link, reporting not-found when no row was affected.
func (b *Backend) Delete(ctx context.Context, code string) error {
	if !core.IsValidCode(code) {
		return core.NewValidationError("invalid short code: " + code)
	}
	start := time.Now()
	defer observe("delete", start)

	var affected int64
	err := withRetry(ctx, b.logger, b.retry, "delete", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		res, err := b.db.ExecContext(opCtx, b.rebind("DELETE FROM short_links WHERE code = ?"), code)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewNotFoundError("short link not found: " + code)
	}
	b.countCache.invalidate()
	return nil
}

// ResetClicks zeroes the click counter for a code (admin operation).
func (b *Backend) ResetClicks(ctx context.Context, code string) error {
	if !core.IsValidCode(code) {
		return core.NewValidationError("invalid short code: " + code)
	}
	start := time.Now()
	defer observe("reset_clicks", start)

	return withRetry(ctx, b.logger, b.retry, "reset_clicks", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		_, err := b.db.ExecContext(opCtx,
			b.rebind("UPDATE short_links SET click_count = 0 WHERE code = ?"), code)
		return err
	})
}

// FlushClicks applies the buffered per-code deltas in one parameterized
// CASE-WHEN update per chunk. Codes are re-validated before the SQL is
// built; an invalid code aborts the whole batch.
func (b *Backend) FlushClicks(ctx context.Context, updates map[string]int64) error {
	if len(updates) == 0 {
		return nil
	}
	for code := range updates {
		if !core.IsValidCode(code) {
			return core.NewValidationError("invalid short code in click buffer: " + code)
		}
	}
	start := time.Now()
	defer observe("flush_clicks", start)

	// Deterministic ordering keeps statements stable for logs and tests.
	codes := make([]string, 0, len(updates))
	for code := range updates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for chunk := range chunked(codes, batchChunkSize) {
		if err := b.flushClicksChunk(ctx, chunk, updates); err != nil {
			return err
		}
	}

	b.logger.Debug("Click counts flushed",
		"backend", b.dialect.Name(),
		"codes", len(updates),
	)
	return nil
}

func (b *Backend) flushClicksChunk(ctx context.Context, codes []string, updates map[string]int64) error {
	var sb strings.Builder
	args := make([]any, 0, len(codes)*3)

	sb.WriteString("UPDATE short_links SET click_count = CASE code")
	for _, code := range codes {
		sb.WriteString(" WHEN ? THEN click_count + ?")
		args = append(args, code, updates[code])
	}
	sb.WriteString(" ELSE click_count END WHERE code IN (")
	sb.WriteString(placeholders(len(codes)))
	sb.WriteString(")")
	for _, code := range codes {
		args = append(args, code)
	}

	query := b.rebind(sb.String())
	return withRetry(ctx, b.logger, b.retry, "flush_clicks", func() error {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()
		_, err := b.db.ExecContext(opCtx, query, args...)
		return err
	})
}
