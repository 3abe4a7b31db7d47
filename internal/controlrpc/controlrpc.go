// Package controlrpc implements the line-delimited JSON-over-Unix-socket
// control protocol shared by MountCore and SyncDaemon (spec §4.9/§6): one
// JSON object per line, request {cmd,id,args}, response {id,result?|error?}.
package controlrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-controlrpc")

// Request is one line of client input. Args is left as raw JSON so that
// handlers can pull out whatever shape of arguments their command expects
// with gjson, instead of forcing every command onto one Go struct.
type Request struct {
	Cmd  string          `json:"cmd"`
	ID   string          `json:"id"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is one line of server output, always correlated to a Request by
// ID. Exactly one of Result/Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler answers one command's Args, returning a value to be JSON-encoded
// as the response's Result.
type Handler func(ctx context.Context, args gjson.Result) (interface{}, error)

// Server multiplexes commands over a Unix domain socket, one goroutine per
// connection, one response line per request line.
type Server struct {
	socketPath string
	listener   net.Listener

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// NewServer prepares a Server for socketPath. Nothing is bound until
// ListenAndServe, which first removes any stale socket file there.
func NewServer(socketPath string) *Server {
	return &Server{socketPath: socketPath, handlers: make(map[string]Handler)}
}

// Handle registers a Handler for cmd. Calling it twice for the same cmd
// replaces the previous handler.
func (s *Server) Handle(cmd string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = h
}

// ListenAndServe binds the control socket and serves connections until ctx
// is canceled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("controlrpc: remove stale socket %s: %w", s.socketPath, err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("controlrpc: listen on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("controlrpc: accept on %s: %w", s.socketPath, err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close shuts down the listener, unblocking ListenAndServe's Accept loop.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(Response{Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}
		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			log.Warnf("controlrpc: write response for %s: %v", req.ID, err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("controlrpc: connection read error: %v", err)
	}
}

// dispatch looks up req.Cmd's handler and runs it, translating the two
// protocol-level failures (spec §4.9) into their documented literal wire
// values: an unregistered command always answers "unknown-command", and a
// handler that rejects its args by wrapping wlerrors.ErrSchema always
// answers "bad-args" rather than leaking the handler's own error text.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Cmd]
	s.mu.RUnlock()
	if !ok {
		return Response{ID: req.ID, Error: "unknown-command"}
	}

	args := gjson.ParseBytes(req.Args)
	result, err := h(ctx, args)
	if err != nil {
		if errors.Is(err, wlerrors.ErrSchema) {
			return Response{ID: req.ID, Error: "bad-args"}
		}
		return Response{ID: req.ID, Error: err.Error()}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: fmt.Sprintf("marshal result: %v", err)}
	}
	return Response{ID: req.ID, Result: resultJSON}
}

// Client issues requests to a controlrpc Server over a Unix domain socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder
	mu      sync.Mutex
}

// Dial connects to a control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("controlrpc: dial %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Client{conn: conn, scanner: scanner, enc: json.NewEncoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends cmd with args (marshaled as-is) and blocks for the matching
// response, returning the raw result JSON for the caller to gjson/sjson
// into whatever shape it expects.
func (c *Client) Call(id, cmd string, args interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var argsJSON []byte
	var err error
	if args != nil {
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("controlrpc: marshal args: %w", err)
		}
	}
	req := Request{Cmd: cmd, ID: id, Args: argsJSON}
	if err := c.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("controlrpc: send request: %w", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("controlrpc: read response: %w", err)
		}
		return nil, fmt.Errorf("controlrpc: connection closed before response")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("controlrpc: parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("controlrpc: %s", resp.Error)
	}
	return resp.Result, nil
}

// SetArg returns args with path set to value, using sjson so handlers can
// build polymorphic argument payloads without a fixed struct per command.
func SetArg(args []byte, path string, value interface{}) ([]byte, error) {
	out, err := sjson.SetBytes(args, path, value)
	if err != nil {
		return nil, fmt.Errorf("controlrpc: sjson set %s: %w", path, err)
	}
	return out, nil
}
