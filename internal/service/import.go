package service

import (
	"context"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/pkg/password"
	"github.com/esap-cc/shortlinker/pkg/timeparse"
)

// ImportRow is one raw import record, string-typed as it arrives from
// CSV or the IPC payload. RowNum is the 1-based source line (header is
// line 1) carried through for error reporting.
type ImportRow struct {
	Code      string `json:"code"`
	Target    string `json:"target"`
	CreatedAt string `json:"created_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Password  string `json:"password,omitempty"`
	Click     int64  `json:"click_count,omitempty"`
	RowNum    int    `json:"row_num,omitempty"`
}

// ImportRowError reports one rejected row.
type ImportRowError struct {
	Code   string `json:"code"`
	RowNum int    `json:"row_num,omitempty"`
	Error  string `json:"error"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Success int              `json:"success"`
	Skipped int              `json:"skipped"`
	Failed  int              `json:"failed"`
	Errors  []ImportRowError `json:"errors,omitempty"`
}

// validatedRow is an ImportRow after parsing and password processing.
type validatedRow struct {
	link   core.ShortLink
	rowNum int
}

// validateImportRow converts a raw row. Passwords already carrying the
// argon2id prefix are kept verbatim; plaintext is hashed; empty means
// none. An unparseable created_at falls back to now, an unparseable
// expires_at is rejected.
func validateImportRow(row ImportRow, now time.Time) (*validatedRow, *ImportRowError) {
	fail := func(msg string) *ImportRowError {
		return &ImportRowError{Code: row.Code, RowNum: row.RowNum, Error: msg}
	}

	if row.Code == "" {
		return nil, fail("empty code")
	}
	if !core.IsValidCode(row.Code) {
		return nil, fail("invalid short code")
	}
	if err := core.ValidateTargetURL(row.Target); err != nil {
		return nil, fail(err.Error())
	}

	createdAt := now
	if row.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, row.CreatedAt); err == nil {
			createdAt = t.UTC()
		}
	}

	var expiresAt *time.Time
	if row.ExpiresAt != "" {
		t, err := timeparse.ParseExpireTime(row.ExpiresAt, now)
		if err != nil {
			return nil, fail("invalid expires_at: " + err.Error())
		}
		expiresAt = &t
	}

	hash, err := password.ProcessImported(row.Password)
	if err != nil {
		return nil, fail("password hash error: " + err.Error())
	}

	if row.Click < 0 {
		row.Click = 0
	}

	return &validatedRow{
		link: core.ShortLink{
			Code:      row.Code,
			Target:    row.Target,
			CreatedAt: createdAt,
			ExpiresAt: expiresAt,
			Password:  hash,
			Click:     row.Click,
		},
		rowNum: row.RowNum,
	}, nil
}

// Import runs a bulk import: validate every row, detect conflicts with
// one batched existence check, then apply the rows under the requested
// conflict mode.
func (s *LinkService) Import(ctx context.Context, rows []ImportRow, mode core.ImportMode) (*ImportResult, error) {
	result := &ImportResult{}
	now := s.now().UTC()

	valid := make([]*validatedRow, 0, len(rows))
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		v, rowErr := validateImportRow(row, now)
		if rowErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		valid = append(valid, v)
		codes = append(codes, v.link.Code)
	}

	existing, err := s.storage.BatchCheckCodesExist(ctx, codes)
	if err != nil {
		return nil, err
	}

	for _, v := range valid {
		_, exists := existing[v.link.Code]
		if exists {
			switch mode {
			case core.ImportSkip:
				result.Skipped++
				continue
			case core.ImportError:
				result.Failed++
				result.Errors = append(result.Errors, ImportRowError{
					Code:   v.link.Code,
					RowNum: v.rowNum,
					Error:  "code already exists",
				})
				continue
			case core.ImportOverwrite:
				// Fall through to upsert; created_at and click_count of
				// the existing row survive via the upsert clause.
			}
		}

		if err := s.storage.Upsert(ctx, &v.link); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ImportRowError{
				Code:   v.link.Code,
				RowNum: v.rowNum,
				Error:  err.Error(),
			})
			continue
		}
		s.publishToCache(&v.link, now)
		result.Success++
	}

	s.logger.Info("Import completed",
		"mode", mode,
		"success", result.Success,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
