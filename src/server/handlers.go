package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	routererrors "content-router/src/internal/errors"
	"content-router/src/internal/version"
	"content-router/src/routing"
	"content-router/src/storage"
)

const (
	defaultInsightsRecent = 20
	defaultDecisionLimit  = 50
	maxDecisionLimit      = 1000
	defaultCountsWindow   = 24 * time.Hour
)

// SelectRequest is the body of POST /api/select and the select_backend params
type SelectRequest struct {
	Content routing.ContentInfo `json:"content"`
	routing.SelectOptions
}

// OutcomeRequest is the body of POST /api/outcome and the record_outcome params
type OutcomeRequest struct {
	routing.Outcome
	LatencyMs float64 `json:"latency_ms"`
}

// ImportResult reports what a configuration import did
type ImportResult struct {
	Status    string `json:"status"`
	Persisted bool   `json:"persisted"`
}

// ClassifyResponse is the body returned by POST /api/classify
type ClassifyResponse struct {
	Category     routing.ContentCategory `json:"category"`
	SizeCategory routing.ContentCategory `json:"size_category"`
}

// BackendView is one entry of GET /api/backends
type BackendView struct {
	Name        string                  `json:"name"`
	Available   bool                    `json:"available"`
	HealthScore float64                 `json:"health_score"`
	Network     *routing.NetworkMetrics `json:"network,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// httpStatusForError maps router errors onto HTTP status codes
func httpStatusForError(err error) int {
	switch {
	case routererrors.IsNoBackendsAvailableError(err):
		return http.StatusServiceUnavailable
	case routererrors.IsClientError(err):
		return http.StatusBadRequest
	case routererrors.IsCancellationError(err):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c echo.Context, err error) error {
	status := httpStatusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("%s %s failed: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, errorBody{Error: err.Error(), Code: routererrors.CodeForError(err)})
}

func notFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, errorBody{Error: message})
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return routererrors.NewValidationError("body", "malformed request body")
	}
	return nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, routererrors.NewValidationError(name, fmt.Sprintf("expected a non-negative integer, got %q", raw))
	}
	return n, nil
}

func parseCategoryParam(raw string) (routing.ContentCategory, error) {
	category, ok := routing.ParseCategory(raw)
	if !ok {
		return "", routererrors.NewValidationError("category", fmt.Sprintf("unknown category %q", raw))
	}
	return category, nil
}

// selectBackend resolves the client's region when the request names none
func (s *Server) selectBackend(req SelectRequest, clientIP string) (routing.RoutingDecision, error) {
	opts := req.SelectOptions
	if opts.ClientLocation == "" && s.geo != nil && s.geo.Enabled() {
		opts.ClientLocation = s.geo.Region(clientIP)
	}
	return s.engine.Select(req.Content, opts)
}

func (s *Server) recordOutcome(req OutcomeRequest) (routing.Outcome, error) {
	o := req.Outcome
	if strings.TrimSpace(o.Backend) == "" {
		return o, routererrors.NewValidationError("backend", "backend is required")
	}
	if req.LatencyMs < 0 {
		return o, routererrors.NewValidationError("latency_ms", "latency cannot be negative")
	}
	o.Latency = time.Duration(req.LatencyMs * float64(time.Millisecond))
	s.engine.RecordOutcome(o)
	return o, nil
}

// importConfig validates, applies and persists a routing document
func (s *Server) importConfig(ctx context.Context, doc routing.RoutingConfigDocument, dryRun bool) (ImportResult, error) {
	if err := s.engine.ValidateRoutingConfig(doc); err != nil {
		return ImportResult{}, err
	}
	if dryRun {
		return ImportResult{Status: "valid"}, nil
	}
	if err := s.engine.ImportRoutingConfig(doc); err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Status: "imported"}
	if s.state != nil {
		if err := storage.Snapshot(ctx, s.state, s.engine); err != nil {
			s.logger.Error("Failed to persist imported routing config: %v", err)
		} else {
			result.Persisted = true
		}
	}
	return result, nil
}

func (s *Server) backendStats(backend string) (interface{}, error) {
	if backend == "" {
		return s.engine.AllBackendStats(), nil
	}
	return s.engine.BackendStats(backend)
}

func (s *Server) suggestions(category string) (interface{}, error) {
	if category == "" {
		return s.engine.SuggestBackendWeights(), nil
	}
	parsed, err := parseCategoryParam(category)
	if err != nil {
		return nil, err
	}
	return s.engine.SuggestCategoryWeights(parsed), nil
}

func (s *Server) mappings(category string) (interface{}, error) {
	if category == "" {
		return s.engine.RouteMappings(), nil
	}
	parsed, err := parseCategoryParam(category)
	if err != nil {
		return nil, err
	}
	return s.engine.RouteMapping(parsed), nil
}

func (s *Server) handleHealth(c echo.Context) error {
	backends := s.engine.Backends()
	status := "healthy"
	if len(backends) == 0 {
		status = "degraded"
	}

	cache := map[string]interface{}{"enabled": s.cache != nil}
	if s.cache != nil {
		cache["mode"] = s.cache.Mode()
	}

	health := map[string]interface{}{
		"status":             status,
		"version":            version.GetVersion(),
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
		"backends":           len(backends),
		"default_strategy":   s.engine.DefaultStrategy(),
		"background_updates": s.engine.BackgroundUpdatesRunning(),
		"measurements":       s.bandwidth.MeasurementsRunning(),
		"geoip":              s.geo != nil && s.geo.Enabled(),
		"persistence":        s.state != nil,
		"cache":              cache,
	}
	if s.details != nil {
		for k, v := range s.details() {
			health[k] = v
		}
	}
	return c.JSON(http.StatusOK, health)
}

func (s *Server) handleSelect(c echo.Context) error {
	var req SelectRequest
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	decision, err := s.selectBackend(req, c.RealIP())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	if _, err := s.recordOutcome(req); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleClassify(c echo.Context) error {
	var info routing.ContentInfo
	if err := bind(c, &info); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, ClassifyResponse{
		Category:     routing.Classify(info),
		SizeCategory: routing.ClassifyWithSize(info),
	})
}

func (s *Server) handleInsights(c echo.Context) error {
	recent, err := queryInt(c, "recent", defaultInsightsRecent)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.engine.RoutingInsights(recent))
}

func (s *Server) handleFastest(c echo.Context) error {
	size, err := queryInt(c, "size_bytes", 0)
	if err != nil {
		return s.writeError(c, err)
	}
	info := routing.ContentInfo{
		Filename:    c.QueryParam("filename"),
		ContentType: c.QueryParam("content_type"),
		SizeBytes:   int64(size),
	}

	metric := c.QueryParam("metric")
	var backend string
	switch metric {
	case "latency":
		backend, err = s.bandwidth.SelectLowestLatencyBackend(info)
	case "bandwidth":
		backend, err = s.bandwidth.SelectHighestBandwidthBackend(info)
	case "", "transfer":
		metric = "transfer"
		backend, err = s.bandwidth.SelectFastestTransferBackend(info)
	default:
		err = routererrors.NewValidationError("metric", fmt.Sprintf("unknown metric %q (want latency, bandwidth or transfer)", metric))
	}
	if err != nil {
		return s.writeError(c, err)
	}

	body := map[string]interface{}{"backend": backend, "metric": metric}
	if m, ok := s.engine.NetworkMetrics(backend); ok {
		body["network"] = m
		if info.SizeBytes > 0 {
			body["estimated_transfer_seconds"] = m.TransferTimeEstimate(info.SizeBytes)
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleListBackends(c echo.Context) error {
	names := s.engine.Backends()
	views := make([]BackendView, 0, len(names))
	for _, name := range names {
		view := BackendView{Name: name}
		if st, err := s.engine.BackendStats(name); err == nil {
			view.Available = st.AvailabilityStatus
			view.HealthScore = st.HealthScore
		}
		if m, ok := s.engine.NetworkMetrics(name); ok {
			m.History = nil
			view.Network = &m
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"backends": views})
}

func (s *Server) handleRegisterBackend(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	if err := s.engine.RegisterBackend(req.Name); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"name": req.Name, "backends": s.engine.Backends()})
}

func (s *Server) handleUnregisterBackend(c echo.Context) error {
	if err := s.engine.UnregisterBackend(c.Param("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAvailability(c echo.Context) error {
	var req struct {
		Available *bool `json:"available"`
	}
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	if req.Available == nil {
		return s.writeError(c, routererrors.NewValidationError("available", "available is required"))
	}
	backend := c.Param("id")
	if !s.engine.IsRegistered(backend) {
		return s.writeError(c, routererrors.NewUnknownBackendError(backend, "availability update"))
	}
	s.engine.UpdateBackendAvailability(backend, *req.Available)
	st, err := s.engine.BackendStats(backend)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleNetworkUpdate(c echo.Context) error {
	var update routing.NetworkUpdate
	if err := bind(c, &update); err != nil {
		return s.writeError(c, err)
	}
	if update.Empty() {
		return s.writeError(c, routererrors.NewValidationError("body", "no network metrics given"))
	}
	backend := c.Param("id")
	if !s.engine.IsRegistered(backend) {
		return s.writeError(c, routererrors.NewUnknownBackendError(backend, "network update"))
	}
	s.engine.UpdateNetworkMetrics(backend, update)
	m, _ := s.engine.NetworkMetrics(backend)
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleAllStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.AllBackendStats())
}

func (s *Server) handleBackendStats(c echo.Context) error {
	st, err := s.engine.BackendStats(c.Param("id"))
	if err != nil {
		return notFound(c, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleMappings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.RouteMappings())
}

func (s *Server) handleMapping(c echo.Context) error {
	category, err := parseCategoryParam(c.Param("category"))
	if err != nil {
		return s.writeError(c, err)
	}
	if c.QueryParam("source") != "cache" {
		return c.JSON(http.StatusOK, s.engine.RouteMapping(category))
	}
	if s.cache == nil {
		return notFound(c, "mapping cache is not configured")
	}
	m, ok := s.cache.Snapshot(c.Request().Context(), category)
	if !ok {
		return notFound(c, fmt.Sprintf("no cached mapping for %s", category))
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleSetMapping(c echo.Context) error {
	category, err := parseCategoryParam(c.Param("category"))
	if err != nil {
		return s.writeError(c, err)
	}
	var req struct {
		Weights map[string]float64 `json:"weights"`
	}
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	m, err := s.engine.SetRouteMapping(category, req.Weights)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleSuggest(c echo.Context) error {
	suggestions, err := s.suggestions(c.QueryParam("category"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, suggestions)
}

func (s *Server) handleRefreshMappings(c echo.Context) error {
	s.engine.UpdateRouteMappings()
	return c.JSON(http.StatusOK, s.engine.RouteMappings())
}

func (s *Server) handleExport(c echo.Context) error {
	doc := s.engine.ExportRoutingConfig()
	if c.QueryParam("format") == "yaml" {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return s.writeError(c, fmt.Errorf("encode routing config: %w", err))
		}
		return c.Blob(http.StatusOK, "application/yaml", data)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleImport(c echo.Context) error {
	var doc routing.RoutingConfigDocument
	if isYAML(c.Request().Header.Get(echo.HeaderContentType)) {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return s.writeError(c, fmt.Errorf("read request body: %w", err))
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return s.writeError(c, routererrors.NewValidationError("body", "malformed YAML document"))
		}
	} else if err := bind(c, &doc); err != nil {
		return s.writeError(c, err)
	}

	dryRun, _ := strconv.ParseBool(c.QueryParam("dry_run"))
	result, err := s.importConfig(c.Request().Context(), doc, dryRun)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func isYAML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/yaml" || mt == "application/x-yaml" || mt == "text/yaml"
}

func (s *Server) handleDecisions(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultDecisionLimit)
	if err != nil {
		return s.writeError(c, err)
	}
	if limit == 0 || limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}

	if s.archive != nil && c.QueryParam("source") != "memory" {
		decisions, err := s.archive.RecentDecisions(c.Request().Context(), limit)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"source": "archive", "decisions": decisions})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"source":    "memory",
		"decisions": s.engine.Decisions().Recent(limit),
	})
}

func (s *Server) handleDecisionCounts(c echo.Context) error {
	window := defaultCountsWindow
	if raw := c.QueryParam("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return s.writeError(c, routererrors.NewValidationError("since", fmt.Sprintf("expected a positive duration, got %q", raw)))
		}
		window = d
	}
	since := time.Now().Add(-window)

	if s.archive != nil {
		counts, err := s.archive.BackendDecisionCounts(c.Request().Context(), since)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"source": "archive", "since": since, "counts": counts})
	}

	counts := make(map[string]int64)
	for _, d := range s.engine.Decisions().Recent(0) {
		if !d.Timestamp.Before(since) {
			counts[d.SelectedBackend]++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"source": "memory", "since": since, "counts": counts})
}
