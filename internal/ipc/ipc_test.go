package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/core"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Request{Kind: KindPing, Payload: json.RawMessage(`{"x":1}`)}
	require.NoError(t, WriteFrame(&buf, in))

	var out Request
	require.NoError(t, ReadFrame(&buf, &out))
	assert.Equal(t, in.Kind, out.Kind)
	assert.JSONEq(t, `{"x":1}`, string(out.Payload))
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var out Request
	assert.ErrorIs(t, ReadFrame(&buf, &out), ErrFrameTooLarge)
}

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sock")
	srv := NewServer(path, slog.Default())

	srv.Handle(KindPing, func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{"status": "pong"}, nil
	})
	srv.Handle(KindLinkGet, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("bad payload")
		}
		if req.Code != "known" {
			return nil, core.NewNotFoundError("short link not found: " + req.Code)
		}
		return map[string]string{"code": req.Code}, nil
	})

	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("ipc server did not stop")
		}
	})

	return srv, NewClient(path)
}

func TestClientServerPing(t *testing.T) {
	_, client := startTestServer(t)
	require.True(t, client.Available())

	var out map[string]string
	require.NoError(t, client.Do(KindPing, nil, &out))
	assert.Equal(t, "pong", out["status"])
}

func TestClientServerErrorMapping(t *testing.T) {
	_, client := startTestServer(t)

	var out map[string]string
	err := client.Do(KindLinkGet, map[string]string{"code": "missing"}, &out)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))

	require.NoError(t, client.Do(KindLinkGet, map[string]string{"code": "known"}, &out))
	assert.Equal(t, "known", out["code"])
}

func TestUnknownKind(t *testing.T) {
	_, client := startTestServer(t)
	err := client.Do("bogus.kind", nil, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestClientUnavailableWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nobody.sock"))
	assert.False(t, client.Available())
}
