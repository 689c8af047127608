package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// Client is the CLI side of the IPC channel.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient targets the given socket path.
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Client{path: path, timeout: 10 * time.Second}
}

// Available probes whether a server is listening, so the CLI can fall
// back to direct storage access when it is not.
func (c *Client) Available() bool {
	conn, err := net.DialTimeout("unix", c.path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Do sends one request and decodes the response payload into out
// (ignored when out is nil). Server-side errors come back as domain
// errors carrying the wire code.
func (c *Client) Do(kind string, payload, out any) error {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	req := Request{Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		req.Payload = data
	}

	if err := WriteFrame(conn, req); err != nil {
		return err
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return err
	}
	if !resp.OK {
		if resp.Error == nil {
			return core.NewInternalError("server returned failure without error body", nil)
		}
		return &core.Error{
			Kind:    core.ErrorKind(resp.Error.Code),
			Message: resp.Error.Message,
		}
	}
	if out != nil && resp.Data != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
