package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path string
	auth string
	body map[string]any
}

func backend(t *testing.T, status int, reply string) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &c.body))
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), calls...)
	}
}

func run(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, s.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out))

	var resps []Response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		resps = append(resps, r)
	}
	return resps
}

func resultText(t *testing.T, r Response) (string, bool) {
	t.Helper()
	data, err := json.Marshal(r.Result)
	require.NoError(t, err)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestInitializeAndList(t *testing.T) {
	s := NewServer("http://unused", "", "local")
	resps := run(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
		`not json`,
	)
	require.Len(t, resps, 4)

	data, _ := json.Marshal(resps[1].Result)
	var list ToolsListResult
	require.NoError(t, json.Unmarshal(data, &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"testcase_dispatch", "session_clear", "corpus_search"}, names)

	require.NotNil(t, resps[2].Error)
	assert.Equal(t, -32601, resps[2].Error.Code)
	require.NotNil(t, resps[3].Error)
	assert.Equal(t, -32700, resps[3].Error.Code)
}

func TestDispatchToolDelegates(t *testing.T) {
	srv, calls := backend(t, http.StatusOK, `{"sessionId":"s1"}`)
	s := NewServer(srv.URL+"/", "secret", "local")

	resps := run(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"testcase_dispatch","arguments":{"message":"login page","flowHint":"generation"}}}`,
	)
	require.Len(t, resps, 1)
	text, isErr := resultText(t, resps[0])
	assert.False(t, isErr)
	assert.JSONEq(t, `{"sessionId":"s1"}`, text)

	got := calls()
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "/dispatch", c.path)
	assert.Equal(t, "Bearer secret", c.auth)
	assert.Equal(t, "local", c.body["userId"])
	assert.Equal(t, "login page", c.body["message"])
	assert.Equal(t, "generation", c.body["flowHint"])
}

func TestClearAndSearchTools(t *testing.T) {
	srv, calls := backend(t, http.StatusNotFound, `{"error":"session not found"}`)
	s := NewServer(srv.URL, "", "local")

	resps := run(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"session_clear","arguments":{"sessionId":"abc"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"corpus_search","arguments":{"corpus":"compliance","query":"pci","topK":3}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"session_clear","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"memory_get","arguments":{}}}`,
	)
	require.Len(t, resps, 4)
	for _, r := range resps {
		_, isErr := resultText(t, r)
		assert.True(t, isErr)
	}

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, "/sessions/abc/clear", got[0].path)
	assert.Equal(t, "/corpus/search", got[1].path)
	assert.Equal(t, float64(3), got[1].body["topK"])
}
