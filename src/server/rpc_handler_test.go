package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	routererrors "content-router/src/internal/errors"
	"content-router/src/routing"
)

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func callRPC(t *testing.T, s *Server, body, contentType string) rpcReply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply), rec.Body.String())
	assert.Equal(t, JSONRPCVersion, reply.JSONRPC)
	return reply
}

func rpcBody(t *testing.T, id interface{}, method string, params interface{}) string {
	t.Helper()
	msg := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func TestJSONRPCProtocolErrors(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name        string
		body        string
		contentType string
		wantCode    int
	}{
		{"wrong content type", rpcBody(t, 1, MethodSelectBackend, nil), "text/plain", routererrors.InvalidRequest},
		{"malformed json", `{"jsonrpc":"2.0",`, "application/json", routererrors.ParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"select_backend"}`, "application/json", routererrors.InvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, "application/json", routererrors.InvalidRequest},
		{"unknown method", rpcBody(t, 1, "store_content", nil), "application/json; charset=utf-8", routererrors.MethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := callRPC(t, s, tt.body, tt.contentType)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.wantCode, reply.Error.Code)
			assert.Empty(t, reply.Result)
		})
	}
}

func TestJSONRPCSelectBackend(t *testing.T) {
	s := newTestServer(t, Options{})

	reply := callRPC(t, s, rpcBody(t, "req-1", MethodSelectBackend, map[string]interface{}{
		"content":  map[string]interface{}{"filename": "track.flac"},
		"strategy": "round_robin",
	}), "application/json")
	require.Nil(t, reply.Error)
	assert.Equal(t, "req-1", reply.ID)

	var d routing.RoutingDecision
	require.NoError(t, json.Unmarshal(reply.Result, &d))
	assert.Equal(t, "ipfs", d.SelectedBackend)
	assert.Equal(t, routing.CategoryAudio, d.Category)
}

func TestJSONRPCMethodErrors(t *testing.T) {
	tests := []struct {
		name     string
		engine   func(t *testing.T) *routing.Engine
		method   string
		params   interface{}
		wantCode int
	}{
		{"no backends", func(t *testing.T) *routing.Engine { return newTestEngine(t) }, MethodSelectBackend, nil, routererrors.NoBackendsAvailable},
		{"unknown backend stats", nil, MethodGetBackendStats, map[string]string{"backend": "gcs"}, routererrors.UnknownBackend},
		{"outcome without backend", nil, MethodRecordOutcome, map[string]interface{}{}, routererrors.InvalidParams},
		{"params of wrong shape", nil, MethodGetRouteMappings, []int{1, 2}, routererrors.InvalidParams},
		{"unknown category", nil, MethodSuggestBackendWeights, map[string]string{"category": "holograms"}, routererrors.InvalidParams},
		{"future document", nil, MethodImportRoutingConfig, map[string]interface{}{"document": map[string]interface{}{"version": "3.0"}}, routererrors.IncompatibleDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{}
			if tt.engine != nil {
				opts.Engine = tt.engine(t)
			}
			s := newTestServer(t, opts)
			reply := callRPC(t, s, rpcBody(t, 7, tt.method, tt.params), "application/json")
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.wantCode, reply.Error.Code, reply.Error.Message)
			assert.EqualValues(t, 7, reply.ID)
		})
	}
}

func TestJSONRPCMethods(t *testing.T) {
	engine := newTestEngine(t, "ipfs", "s3")
	s := newTestServer(t, Options{Engine: engine})

	reply := callRPC(t, s, rpcBody(t, 1, MethodRecordOutcome, map[string]interface{}{
		"backend": "s3", "success": true, "latency_ms": 50, "content_category": "video",
	}), "application/json")
	require.Nil(t, reply.Error)
	st, err := engine.BackendStats("s3")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.SuccessfulOperations)

	reply = callRPC(t, s, rpcBody(t, 2, MethodGetBackendStats, map[string]string{"backend": "s3"}), "application/json")
	require.Nil(t, reply.Error)
	var one routing.BackendStats
	require.NoError(t, json.Unmarshal(reply.Result, &one))
	assert.Equal(t, "s3", one.Backend)

	reply = callRPC(t, s, rpcBody(t, 3, MethodGetBackendStats, nil), "application/json")
	require.Nil(t, reply.Error)
	var all []routing.BackendStats
	require.NoError(t, json.Unmarshal(reply.Result, &all))
	assert.Len(t, all, 2)

	reply = callRPC(t, s, rpcBody(t, 4, MethodGetRouteMappings, map[string]string{"category": "video"}), "application/json")
	require.Nil(t, reply.Error)
	var m routing.RouteMapping
	require.NoError(t, json.Unmarshal(reply.Result, &m))
	assert.Equal(t, routing.CategoryVideo, m.Category)
	assert.InDelta(t, 1.0, m.Sum(), 1e-9)

	reply = callRPC(t, s, rpcBody(t, 5, MethodSuggestBackendWeights, nil), "application/json")
	require.Nil(t, reply.Error)
	var weights map[routing.ContentCategory]map[string]float64
	require.NoError(t, json.Unmarshal(reply.Result, &weights))
	assert.Contains(t, weights[routing.CategoryVideo], "ipfs")

	reply = callRPC(t, s, rpcBody(t, 6, MethodExportRoutingConfig, nil), "application/json")
	require.Nil(t, reply.Error)
	var doc routing.RoutingConfigDocument
	require.NoError(t, json.Unmarshal(reply.Result, &doc))
	assert.Equal(t, []string{"ipfs", "s3"}, doc.Backends)

	doc.Backends = append(doc.Backends, "filecoin")
	reply = callRPC(t, s, rpcBody(t, 7, MethodImportRoutingConfig, map[string]interface{}{"document": doc, "dry_run": true}), "application/json")
	require.Nil(t, reply.Error)
	var result ImportResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, "valid", result.Status)
	assert.False(t, engine.IsRegistered("filecoin"))

	reply = callRPC(t, s, rpcBody(t, 8, MethodImportRoutingConfig, map[string]interface{}{"document": doc}), "application/json")
	require.Nil(t, reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, ImportResult{Status: "imported"}, result)
	assert.True(t, engine.IsRegistered("filecoin"))
}
