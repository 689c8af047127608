// Package ipc implements the local request/response channel between the
// CLI and a running server over a Unix domain socket. Messages are
// length-prefixed JSON frames; each request carries a kind discriminator
// and each response either a payload or a typed error.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/esap-cc/shortlinker/internal/core"
)

// DefaultSocketPath is the rendezvous point next to the pidfile.
const DefaultSocketPath = "shortlinker.sock"

// maxFrameSize bounds a single message. The CLI sends all rows of an
// import in one request, so an import larger than this is rejected.
const maxFrameSize = 16 << 20

// Request kinds. Each maps 1:1 to a LinkService or ConfigStore call.
const (
	KindPing        = "ping"
	KindReload      = "reload"
	KindShutdown    = "shutdown"
	KindLinkAdd     = "link.add"
	KindLinkRemove  = "link.remove"
	KindLinkUpdate  = "link.update"
	KindLinkGet     = "link.get"
	KindLinkList    = "link.list"
	KindLinkImport  = "link.import"
	KindLinkExport  = "link.export"
	KindLinkStats   = "link.stats"
	KindConfigGet   = "config.get"
	KindConfigSet   = "config.set"
	KindConfigReset = "config.reset"
	KindConfigList  = "config.list"
)

// Request is one framed client message.
type Request struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is one framed server message.
type Response struct {
	OK    bool            `json:"ok"`
	Error *ErrorBody      `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorBody carries the stable error code plus a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrFrameTooLarge rejects oversized frames before allocation.
var ErrFrameTooLarge = errors.New("ipc frame exceeds size limit")

// WriteFrame writes v as a 4-byte big-endian length prefix plus JSON.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode ipc frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return ErrFrameTooLarge
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode ipc frame: %w", err)
	}
	return nil
}

// errorResponse maps a domain error onto the wire shape.
func errorResponse(err error) Response {
	return Response{
		OK: false,
		Error: &ErrorBody{
			Code:    string(core.KindOf(err)),
			Message: err.Error(),
		},
	}
}

// dataResponse wraps a success payload.
func dataResponse(v any) (Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	return Response{OK: true, Data: data}, nil
}
