package storage

import (
	"context"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// CursorPage is one batch of a cursor-paginated scan.
type CursorPage struct {
	Links []*core.ShortLink
	// NextCursor is the last code of this page; empty when exhausted.
	NextCursor string
}

// StreamCursor walks the filtered link set in stable code order using
// keyset pagination (code > cursor), so very large exports never hold
// the whole table in memory and rows are emitted at most once even while
// writes land concurrently. Pages are sent to out until exhaustion, an
// error, or context cancellation; out is closed when the walk ends.
func (b *Backend) StreamCursor(ctx context.Context, filter core.LinkFilter, pageSize int, out chan<- CursorPage) error {
	defer close(out)
	if pageSize < 1 || pageSize > 5000 {
		pageSize = 1000
	}
	start := time.Now()
	defer observe("stream_cursor", start)

	cursor := ""
	for {
		page, err := b.cursorPage(ctx, filter, cursor, pageSize)
		if err != nil {
			return err
		}
		if len(page.Links) == 0 {
			return nil
		}
		select {
		case out <- page:
		case <-ctx.Done():
			return ctx.Err()
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (b *Backend) cursorPage(ctx context.Context, filter core.LinkFilter, cursor string, pageSize int) (CursorPage, error) {
	now := time.Now().UTC()
	where, args := buildFilterWhere(filter, now)
	if cursor != "" {
		if where == "" {
			where = " WHERE code > ?"
		} else {
			where += " AND code > ?"
		}
		args = append(args, cursor)
	}

	query := "SELECT " + linkColumns + " FROM short_links" + where +
		" ORDER BY code ASC LIMIT ?"
	args = append(args, pageSize)

	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	rows, err := b.db.QueryContext(opCtx, b.rebind(query), args...)
	if err != nil {
		return CursorPage{}, core.NewTransientStorageError("failed to stream short links", err)
	}
	defer rows.Close()

	var page CursorPage
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return CursorPage{}, core.NewPermanentStorageError("failed to scan short link", err)
		}
		page.Links = append(page.Links, link)
	}
	if err := rows.Err(); err != nil {
		return CursorPage{}, core.NewTransientStorageError("failed reading short link rows", err)
	}

	if len(page.Links) == pageSize {
		page.NextCursor = page.Links[len(page.Links)-1].Code
	}
	return page, nil
}
