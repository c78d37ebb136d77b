package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/dispatch"
)

// HandlerFunc processes control method params and returns a result or
// structured error.
type HandlerFunc func(context.Context, json.RawMessage) (any, *Error)

// StreamFunc starts a stream for a control method. The connection is
// dedicated to the stream until the channel closes or the client leaves.
type StreamFunc func(context.Context, json.RawMessage) (<-chan []byte, *Error)

// Options tune the server.
type Options struct {
	MaxFrameBytes int
}

// Server listens for framed requests over Unix sockets. Channel commands go
// to the dispatcher; daemon.* methods go to registered handlers.
type Server struct {
	ln         net.Listener
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
	maxFrame   int

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	streams  map[string]StreamFunc
	active   map[net.Conn]struct{}
	closed   bool

	conns sync.WaitGroup
}

// NewServer constructs an IPC server in front of d.
func NewServer(d *dispatch.Dispatcher, logger zerolog.Logger, opts Options) *Server {
	if d == nil {
		panic("ipc: nil dispatcher")
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrame
	}
	return &Server{
		dispatcher: d,
		logger:     logger,
		maxFrame:   opts.MaxFrameBytes,
		handlers:   make(map[string]HandlerFunc),
		streams:    make(map[string]StreamFunc),
		active:     make(map[net.Conn]struct{}),
	}
}

// Register installs a handler for a control method.
func (s *Server) Register(method string, handler HandlerFunc) {
	mustControl(method)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// RegisterStream installs a streaming control method.
func (s *Server) RegisterStream(method string, stream StreamFunc) {
	mustControl(method)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[method] = stream
}

func mustControl(method string) {
	if !strings.HasPrefix(method, ControlPrefix) {
		panic("ipc: control method " + method + " must start with " + ControlPrefix)
	}
}

// Start begins accepting connections on endpoint.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// connWriter serialises frames from concurrent completions.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) write(resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return writeFrame(w.conn, payload)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	w := &connWriter{conn: conn}
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		payload, err := readFrame(conn, s.maxFrame)
		if errors.Is(err, ErrFrameTooLarge) {
			s.logger.Warn().Err(err).Msg("frame rejected")
			if w.write(Response{Error: Errorf(CodeFrameTooLarge, err.Error())}) != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			if w.write(Response{ID: req.ID, Error: Errorf(CodeInvalidRequest, "invalid json")}) != nil {
				return
			}
			continue
		}
		if req.Command == "" {
			if w.write(Response{ID: req.ID, Error: Errorf(CodeInvalidRequest, "command required")}) != nil {
				return
			}
			continue
		}

		if strings.HasPrefix(req.Command, ControlPrefix) {
			if stream := s.lookupStream(req.Command); stream != nil {
				// Wait for pending replies so the stream owns the connection.
				inflight.Wait()
				s.serveStream(ctx, conn, w, req, stream)
				return
			}
			if w.write(s.control(ctx, req)) != nil {
				return
			}
			continue
		}

		inflight.Add(1)
		id := req.ID
		s.dispatcher.DispatchAsync(ctx, dispatch.Request{Command: req.Command, Payload: req.Payload}, func(out dispatch.Outcome) {
			defer inflight.Done()
			if err := w.write(FromOutcome(id, out)); err != nil {
				s.logger.Debug().Err(err).Str("trace", out.TraceID).Msg("reply dropped")
			}
		})
	}
}

func (s *Server) control(ctx context.Context, req Request) Response {
	handler := s.lookupHandler(req.Command)
	if handler == nil {
		return Response{ID: req.ID, Error: Errorf(CodeInvalidRequest, "unknown method "+req.Command)}
	}
	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return Response{ID: req.ID, Error: rpcErr}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: Errorf(CodeInternal, err.Error())}
	}
	return Response{ID: req.ID, OK: true, Data: raw}
}

func (s *Server) serveStream(ctx context.Context, conn net.Conn, w *connWriter, req Request, stream StreamFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, rpcErr := stream(streamCtx, req.Params)
	if rpcErr != nil {
		_ = w.write(Response{ID: req.ID, Error: rpcErr})
		return
	}
	if err := w.write(Response{ID: req.ID, OK: true}); err != nil {
		return
	}

	// Any read, including EOF, ends the stream.
	go func() {
		var buf [1]byte
		_, _ = conn.Read(buf[:])
		cancel()
	}()

	for {
		select {
		case <-streamCtx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.mu.Lock()
			err := writeFrame(conn, event)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[method]
}

func (s *Server) lookupStream(method string) StreamFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[method]
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, conn)
}

// Stop shuts down the listener and closes open connections. In-flight
// requests still resolve; their replies are dropped.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for conn := range s.active {
		conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Wait blocks until every accepted connection has been released.
func (s *Server) Wait() {
	s.conns.Wait()
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
