package server

import (
	"encoding/json"
	"fmt"

	routererrors "content-router/src/internal/errors"
)

// JSONRPCVersion is the only protocol version accepted on /jsonrpc
const JSONRPCVersion = "2.0"

// JSON-RPC method names served on /jsonrpc
const (
	MethodSelectBackend         = "select_backend"
	MethodRecordOutcome         = "record_outcome"
	MethodGetBackendStats       = "get_backend_stats"
	MethodGetRouteMappings      = "get_route_mappings"
	MethodSuggestBackendWeights = "suggest_backend_weights"
	MethodExportRoutingConfig   = "export_routing_config"
	MethodImportRoutingConfig   = "import_routing_config"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ResponseFactory builds JSON-RPC responses
type ResponseFactory struct{}

// NewResponseFactory creates a response factory
func NewResponseFactory() *ResponseFactory {
	return &ResponseFactory{}
}

// CreateSuccess wraps a result
func (f *ResponseFactory) CreateSuccess(id interface{}, result interface{}) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// CreateError builds an error response with an explicit code
func (f *ResponseFactory) CreateError(id interface{}, code int, message string, data interface{}) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

func (f *ResponseFactory) CreateParseError(id interface{}) JSONRPCResponse {
	return f.CreateError(id, routererrors.ParseError, "Parse error", nil)
}

func (f *ResponseFactory) CreateInvalidRequest(id interface{}, message string) JSONRPCResponse {
	return f.CreateError(id, routererrors.InvalidRequest, "Invalid Request", message)
}

func (f *ResponseFactory) CreateMethodNotFound(id interface{}, method string) JSONRPCResponse {
	return f.CreateError(id, routererrors.MethodNotFound, "Method not found", method)
}

func (f *ResponseFactory) CreateInvalidParams(id interface{}, err error) JSONRPCResponse {
	return f.CreateError(id, routererrors.InvalidParams, "Invalid params", err.Error())
}

// CreateFromError maps a router error onto its code
func (f *ResponseFactory) CreateFromError(id interface{}, err error) JSONRPCResponse {
	return f.CreateError(id, routererrors.CodeForError(err), err.Error(), nil)
}
