// Package server implements the HTTP surfaces: the public redirect hot
// path and the admin API, plus process lifecycle (pidfile, graceful
// shutdown) and the middleware chain.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/esap-cc/shortlinker/internal/core"
)

// Envelope is the admin API response shape. Code 0 is success; errors
// carry a non-zero code and a message.
type Envelope struct {
	Code       int         `json:"code"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination decorates list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// NewPagination computes the page count.
func NewPagination(page, pageSize int, total int64) *Pagination {
	totalPages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPages++
	}
	return &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Wire error codes per kind, stable across releases.
var kindWireCodes = map[core.ErrorKind]int{
	core.KindValidation:       1001,
	core.KindNotFound:         1002,
	core.KindConflict:         1003,
	core.KindAuthFailure:      1004,
	core.KindBusy:             1005,
	core.KindTransientStorage: 1501,
	core.KindPermanentStorage: 1502,
	core.KindInternal:         1500,
}

var kindHTTPStatus = map[core.ErrorKind]int{
	core.KindValidation:       http.StatusBadRequest,
	core.KindNotFound:         http.StatusNotFound,
	core.KindConflict:         http.StatusConflict,
	core.KindAuthFailure:      http.StatusUnauthorized,
	core.KindBusy:             http.StatusConflict,
	core.KindTransientStorage: http.StatusInternalServerError,
	core.KindPermanentStorage: http.StatusInternalServerError,
	core.KindInternal:         http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeData sends a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Code: 0, Data: data})
}

// writePage sends a success envelope with pagination.
func writePage(w http.ResponseWriter, data any, p *Pagination) {
	writeJSON(w, http.StatusOK, Envelope{Code: 0, Data: data, Pagination: p})
}

// writeError maps a domain error to the envelope plus HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status, ok := kindHTTPStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak internals; the detailed error is in the log.
		message = "internal server error"
	}
	writeJSON(w, status, Envelope{Code: kindWireCodes[kind], Message: message})
}
