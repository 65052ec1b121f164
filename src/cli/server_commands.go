package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"content-router/src/config"
	"content-router/src/internal/common"
	"content-router/src/routing"
	"content-router/src/server"
)

const defaultRequestTimeout = 10 * time.Second

// RunServer starts the router and blocks until SIGINT or SIGTERM
func RunServer(configPath string, portOverride int) error {
	cfg, used, err := LoadConfigWithFallback(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	return serveUntil(cfg, used, sigChan)
}

// serveUntil runs the router until stop delivers a signal
func serveUntil(cfg *config.Config, watchPath string, stop <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := server.NewRuntime(ctx, cfg, watchPath)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		rt.Stop(stopCtx)
		return fmt.Errorf("failed to start router: %w", err)
	}

	addr := rt.Server.Address()
	common.CLILogger.Info("Content Router started on %s", addr)
	common.CLILogger.Info("Backends: %s (default strategy %s)", strings.Join(rt.Engine.Backends(), ", "), rt.Engine.DefaultStrategy())
	common.CLILogger.Info("REST API: http://%s/api", addr)
	common.CLILogger.Info("HTTP JSON-RPC endpoint: http://%s/jsonrpc", addr)
	common.CLILogger.Info("Health check endpoint: http://%s/health", addr)
	if watchPath != "" {
		common.CLILogger.Info("Configuration: %s", watchPath)
	}

	<-stop
	common.CLILogger.Info("Received shutdown signal, stopping router...")

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() {
		done <- rt.Stop(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			common.CLILogger.Warn("Router stopped with error: %v", err)
		} else {
			common.CLILogger.Info("Router stopped successfully")
		}
	case <-shutdownCtx.Done():
		common.CLILogger.Warn("Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
	common.SyncAll()
	return nil
}

// apiClient talks to a running router's REST API
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultRequestTimeout},
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("router at %s is not reachable: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("router returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("router returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, out)
}

// ShowStatus prints a summary of a running router's /health payload
func ShowStatus(ctx context.Context, w io.Writer, baseURL string) error {
	var health map[string]interface{}
	if err := newAPIClient(baseURL).do(ctx, http.MethodGet, "/health", "", nil, &health); err != nil {
		return err
	}

	fmt.Fprintf(w, "Content Router at %s\n", baseURL)
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 50))
	keys := make([]string, 0, len(health))
	for k := range health {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", k, formatHealthValue(health[k]))
	}
	return tw.Flush()
}

// ShowStats prints backend statistics from a running router
func ShowStats(ctx context.Context, w io.Writer, baseURL, backend string) error {
	client := newAPIClient(baseURL)
	var stats []routing.BackendStats
	if backend != "" {
		var one routing.BackendStats
		if err := client.do(ctx, http.MethodGet, "/api/stats/"+backend, "", nil, &one); err != nil {
			return err
		}
		stats = append(stats, one)
	} else if err := client.do(ctx, http.MethodGet, "/api/stats", "", nil, &stats); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tAVAILABLE\tHEALTH\tOPS\tSUCCESS\tAVG LATENCY\tBYTES")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%t\t%.2f\t%d\t%.1f%%\t%s\t%d\n",
			st.Backend, st.AvailabilityStatus, st.HealthScore, st.TotalOperations,
			st.SuccessRate*100, st.AvgLatency().Round(time.Millisecond), st.TotalBytesStored)
	}
	return tw.Flush()
}

// ExportRemote downloads the routing document of a running router
func ExportRemote(ctx context.Context, w io.Writer, baseURL, format, out string) error {
	path := "/api/config/export"
	if strings.EqualFold(format, "yaml") || strings.EqualFold(format, "yml") {
		path += "?format=yaml"
	} else if format != "" && !strings.EqualFold(format, "json") {
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
	var data []byte
	if err := newAPIClient(baseURL).do(ctx, http.MethodGet, path, "", nil, &data); err != nil {
		return err
	}
	return writeOutput(w, out, data)
}

// ImportRemote uploads a routing document to a running router
func ImportRemote(ctx context.Context, w io.Writer, baseURL, path string, dryRun bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read routing document: %w", err)
	}
	contentType := "application/yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		contentType = "application/json"
	}
	endpoint := "/api/config/import"
	if dryRun {
		endpoint += "?dry_run=true"
	}

	var result server.ImportResult
	if err := newAPIClient(baseURL).do(ctx, http.MethodPost, endpoint, contentType, data, &result); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s", path, result.Status)
	if result.Persisted {
		fmt.Fprint(w, " (persisted)")
	}
	fmt.Fprintln(w)
	return nil
}
