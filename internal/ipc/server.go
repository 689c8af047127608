package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// Handler processes one request kind.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Server accepts CLI connections on a Unix domain socket and dispatches
// framed requests to registered handlers.
type Server struct {
	path     string
	handlers map[string]Handler
	logger   *slog.Logger
	listener net.Listener

	// OnShutdown is invoked after a shutdown request is acknowledged.
	OnShutdown func()
}

// NewServer builds a server bound to the given socket path.
func NewServer(path string, logger *slog.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{
		path:     path,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Handle registers a handler for a request kind.
func (s *Server) Handle(kind string, h Handler) {
	s.handlers[kind] = h
}

// Listen binds the socket, replacing a stale file from a crashed
// predecessor (liveness was already checked via the pidfile).
func (s *Server) Listen() error {
	if _, err := os.Stat(s.path); err == nil {
		os.Remove(s.path)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.Close()

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("IPC endpoint listening", "path", s.path)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("IPC accept failed", "error", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// Close tears the listener and socket file down.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.path)
}

// serveConn handles one connection; clients may pipeline multiple
// requests on it.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(time.Minute))

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			return
		}

		resp := s.dispatch(ctx, &req)
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := WriteFrame(conn, resp); err != nil {
			s.logger.Debug("IPC write failed", "error", err)
			return
		}

		if req.Kind == KindShutdown && resp.OK {
			if s.OnShutdown != nil {
				// The response is already on the wire; shutting down now
				// lets the client observe a clean acknowledgement.
				go s.OnShutdown()
			}
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	handler, ok := s.handlers[req.Kind]
	if !ok {
		return errorResponse(core.NewValidationError("unknown request kind: " + req.Kind))
	}

	data, err := handler(ctx, req.Payload)
	if err != nil {
		s.logger.Debug("IPC request failed", "kind", req.Kind, "error", err)
		return errorResponse(err)
	}
	resp, err := dataResponse(data)
	if err != nil {
		return errorResponse(core.NewInternalError("failed to encode response", err))
	}
	return resp
}
