package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
)

// csvHeader is the canonical export column order; import expects the
// same header.
var csvHeader = []string{"code", "target", "created_at", "expires_at", "password", "click_count"}

// ExportStreamer walks storage with cursor pagination; the service holds
// it as an interface so offline tooling can swap implementations.
type ExportStreamer interface {
	StreamCursor(ctx context.Context, filter core.LinkFilter, pageSize int, out chan<- storage.CursorPage) error
}

// ExportCSV streams the filtered link set as CSV to w. Rows are written
// page by page, so arbitrarily large exports run in constant memory.
func (s *LinkService) ExportCSV(ctx context.Context, streamer ExportStreamer, filter core.LinkFilter, w io.Writer) (int64, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	pages := make(chan storage.CursorPage, 2)
	errc := make(chan error, 1)
	go func() { errc <- streamer.StreamCursor(ctx, filter, 1000, pages) }()

	var written int64
	for page := range pages {
		for _, link := range page.Links {
			if err := cw.Write(linkToCSVRow(link)); err != nil {
				// Drain the stream so the producer goroutine exits.
				for range pages {
				}
				<-errc
				return written, err
			}
			written++
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			for range pages {
			}
			<-errc
			return written, err
		}
	}
	if err := <-errc; err != nil {
		return written, err
	}
	cw.Flush()
	return written, cw.Error()
}

func linkToCSVRow(link *core.ShortLink) []string {
	expiresAt := ""
	if link.ExpiresAt != nil {
		expiresAt = link.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return []string{
		link.Code,
		link.Target,
		link.CreatedAt.UTC().Format(time.RFC3339),
		expiresAt,
		link.Password,
		strconv.FormatInt(link.Click, 10),
	}
}

// ParseCSV reads an import CSV: the header row is required and rows are
// numbered from 1 with the header as line 1, so the first data row is
// row 2. Rows that fail CSV parsing are reported with their line number
// instead of aborting the whole import.
func ParseCSV(r io.Reader) ([]ImportRow, []ImportRowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, core.NewValidationError("empty CSV: header row required")
	}
	if err != nil {
		return nil, nil, core.NewValidationError("malformed CSV header: " + err.Error())
	}
	if len(header) == 0 || header[0] != "code" {
		return nil, nil, core.NewValidationError("unexpected CSV header; expected code,target,created_at,expires_at,password,click_count")
	}

	var rows []ImportRow
	var rowErrors []ImportRowError
	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrors = append(rowErrors, ImportRowError{
				RowNum: lineNum,
				Error:  "CSV parse error: " + err.Error(),
			})
			continue
		}
		if len(record) < 2 {
			rowErrors = append(rowErrors, ImportRowError{
				RowNum: lineNum,
				Error:  fmt.Sprintf("expected at least 2 columns, got %d", len(record)),
			})
			continue
		}

		row := ImportRow{Code: record[0], Target: record[1], RowNum: lineNum}
		if len(record) > 2 {
			row.CreatedAt = record[2]
		}
		if len(record) > 3 {
			row.ExpiresAt = record[3]
		}
		if len(record) > 4 {
			row.Password = record[4]
		}
		if len(record) > 5 {
			if n, err := strconv.ParseInt(record[5], 10, 64); err == nil {
				row.Click = n
			}
		}
		rows = append(rows, row)
	}
	return rows, rowErrors, nil
}
