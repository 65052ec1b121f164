package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"content-router/src/routing"
)

type backendParams struct {
	Backend string `json:"backend"`
}

type categoryParams struct {
	Category string `json:"category"`
}

type importParams struct {
	Document routing.RoutingConfigDocument `json:"document"`
	DryRun   bool                          `json:"dry_run"`
}

// handleJSONRPC serves the JSON-RPC 2.0 endpoint. Protocol and method
// errors are returned in the envelope with HTTP 200.
func (s *Server) handleJSONRPC(c echo.Context) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != echo.MIMEApplicationJSON {
		return c.JSON(http.StatusOK, s.responses.CreateInvalidRequest(nil, "Content-Type must be application/json"))
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, s.responses.CreateParseError(nil))
	}
	if req.JSONRPC != JSONRPCVersion {
		return c.JSON(http.StatusOK, s.responses.CreateInvalidRequest(req.ID, "jsonrpc must be 2.0"))
	}
	if req.Method == "" {
		return c.JSON(http.StatusOK, s.responses.CreateInvalidRequest(req.ID, "method is required"))
	}

	return c.JSON(http.StatusOK, s.dispatch(c.Request().Context(), req, c.RealIP()))
}

func (s *Server) dispatch(ctx context.Context, req JSONRPCRequest, clientIP string) JSONRPCResponse {
	var (
		result interface{}
		err    error
	)

	switch req.Method {
	case MethodSelectBackend:
		var p SelectRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		result, err = s.selectBackend(p, clientIP)

	case MethodRecordOutcome:
		var p OutcomeRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		if _, err = s.recordOutcome(p); err == nil {
			result = map[string]string{"status": "recorded"}
		}

	case MethodGetBackendStats:
		var p backendParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		result, err = s.backendStats(p.Backend)

	case MethodGetRouteMappings:
		var p categoryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		result, err = s.mappings(p.Category)

	case MethodSuggestBackendWeights:
		var p categoryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		result, err = s.suggestions(p.Category)

	case MethodExportRoutingConfig:
		result = s.engine.ExportRoutingConfig()

	case MethodImportRoutingConfig:
		var p importParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.responses.CreateInvalidParams(req.ID, err)
		}
		result, err = s.importConfig(ctx, p.Document, p.DryRun)

	default:
		return s.responses.CreateMethodNotFound(req.ID, req.Method)
	}

	if err != nil {
		s.logger.Debug("JSON-RPC %s failed: %v", req.Method, err)
		return s.responses.CreateFromError(req.ID, err)
	}
	return s.responses.CreateSuccess(req.ID, result)
}

// decodeParams leaves v untouched when params are absent or null
func decodeParams(params json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}
