// Package mcp exposes the casegen HTTP API as MCP tools over stdio so that
// editor agents can generate and refine test cases without speaking HTTP.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	protocolVersion = "2024-11-05"
	maxLineBytes    = 1 << 20
)

// Server is a stdio MCP server. Every tool call is forwarded to a running
// casegen server, which owns sessions and inference.
type Server struct {
	serverURL string
	apiKey    string
	userID    string
	client    *http.Client

	mu  sync.Mutex
	out io.Writer
}

// NewServer returns a server that forwards to serverURL. userID owns the
// sessions of tool calls that do not name a user.
func NewServer(serverURL, apiKey, userID string) *Server {
	return &Server{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		userID:    userID,
		// a generation flow makes several model calls
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Run serves newline-delimited JSON-RPC from in until in is exhausted or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(errorResponse(nil, codeParseError, "parse error: "+err.Error()))
			continue
		}
		if resp := s.handle(ctx, &req); resp != nil && req.ID != nil {
			s.write(resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "casegen", Version: "1.0.0"},
		})
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: ToolDefinitions()})
	case "tools/call":
		var params CallToolParams
		if len(req.Params) == 0 {
			return errorResponse(req.ID, codeInvalidParams, "invalid params: missing")
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
		}
		return resultResponse(req.ID, s.callTool(ctx, params.Name, params.Arguments))
	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			return nil
		}
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) CallToolResult {
	switch name {
	case "testcase_dispatch":
		body := map[string]any{
			"userId":     stringArg(args, "userId", s.userID),
			"sessionId":  stringArg(args, "sessionId", ""),
			"message":    stringArg(args, "message", ""),
			"flowHint":   stringArg(args, "flowHint", ""),
			"newSession": boolArg(args, "newSession"),
		}
		if a, ok := args["artifact"]; ok {
			body["artifact"] = a
		}
		return s.post(ctx, "/dispatch", body)

	case "session_clear":
		id := stringArg(args, "sessionId", "")
		if id == "" {
			return textResult("sessionId is required", true)
		}
		return s.post(ctx, "/sessions/"+url.PathEscape(id)+"/clear", nil)

	case "corpus_search":
		return s.post(ctx, "/corpus/search", map[string]any{
			"corpus": stringArg(args, "corpus", ""),
			"query":  stringArg(args, "query", ""),
			"topK":   intArg(args, "topK", 5),
		})
	}
	return textResult("unknown tool: "+name, true)
}

// post forwards body to the casegen server. The response body is returned
// verbatim; any status of 400 or above marks the result as an error.
func (s *Server) post(ctx context.Context, path string, body any) CallToolResult {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return textResult(fmt.Sprintf("encode request: %s", err), true)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+path, payload)
	if err != nil {
		return textResult(fmt.Sprintf("build request: %s", err), true)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return textResult(fmt.Sprintf("casegen server unreachable: %s", err), true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return textResult(fmt.Sprintf("read response: %s", err), true)
	}
	return textResult(string(data), resp.StatusCode >= http.StatusBadRequest)
}

func (s *Server) write(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errorResponse(resp.ID, codeInternalError, "unencodable result"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(append(data, '\n'))
}

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intArg accepts JSON numbers, which decode as float64.
func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
