package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	mcpE "github.com/flarexio/mooli/mcp"
)

type StdioMCPServer interface {
	AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error
	Listen(ctx context.Context, in io.Reader, out io.Writer) error
}

func NewStdioMCPServer() StdioMCPServer {
	return &stdioMCPServer{
		endpoints: make(map[mcp.MCPMethod]mcpE.MCPEndpoint),
	}
}

type stdioMCPServer struct {
	mu        sync.RWMutex
	endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint
}

// Listen answers one JSON-RPC request per line until in is exhausted or ctx
// is done. Notifications and malformed lines get no reply.
func (s *stdioMCPServer) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lines := make(chan string)
	errs := make(chan error, 1)

	go func(ctx context.Context, lines chan<- string, errs chan<- error) {
		defer close(lines)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}(ctx, lines, errs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}

			if line == "" {
				continue
			}

			var req mcpE.JSONRPCRequest
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				continue
			}

			if req.ID.IsNil() {
				continue
			}

			resp := s.handle(ctx, req)

			bs, err := json.Marshal(resp)
			if err != nil {
				continue
			}

			fmt.Fprintf(out, "%s\n", bs)
		}
	}
}

func (s *stdioMCPServer) handle(ctx context.Context, req mcpE.JSONRPCRequest) mcp.JSONRPCMessage {
	s.mu.RLock()
	endpoint, ok := s.endpoints[req.Method]
	s.mu.RUnlock()

	if !ok {
		return mcp.JSONRPCError{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Error: struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Data    any    `json:"data,omitempty"`
			}{
				Code:    mcp.METHOD_NOT_FOUND,
				Message: "method not found",
			},
		}
	}

	return endpoint(ctx, req)
}

func (s *stdioMCPServer) AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.endpoints[method]
	if ok {
		return errors.New("endpoint already exists")
	}

	s.endpoints[method] = endpoint
	return nil
}
