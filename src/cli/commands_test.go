package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"content-router/src/config"
	"content-router/src/routing"
	"content-router/src/server"
)

// isolateHome keeps the user's real ~/.content-router out of the test
func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func writeTestConfig(t *testing.T, mutate func(cfg *config.Config)) string {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "error"
	cfg.Router.Backends = []string{"ipfs", "s3"}
	cfg.Router.BackendCosts = nil
	cfg.Router.Seed = 3
	cfg.Network.Prober = config.ProberNone
	cfg.Server.Port = 0
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func writeDocument(t *testing.T, name string, doc routing.RoutingConfigDocument) string {
	t.Helper()
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(name, ".json") {
		data, err = json.Marshal(doc)
	} else {
		data, err = yaml.Marshal(doc)
	}
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestCommandTree(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{CmdServe, CmdClassify, CmdSelect, CmdStats, CmdStatus, CmdConfig, CmdVersion} {
		assert.True(t, names[want], "missing command %s", want)
	}

	sub := make(map[string]bool)
	for _, c := range configCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, want := range []string{CmdConfigInit, CmdConfigValidate, CmdConfigExport, CmdConfigImport} {
		assert.True(t, sub[want], "missing config subcommand %s", want)
	}
}

func TestExecuteClassify(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{CmdClassify, "--json", "song.mp3"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		formatJSON = false
	})

	require.NoError(t, Execute())
	var results []ClassifyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, routing.CategoryAudio, results[0].Category)
}

func TestRunClassify(t *testing.T) {
	tests := []struct {
		name        string
		names       []string
		contentType string
		size        int64
		want        []string
	}{
		{"by extension", []string{"song.mp3", "weights.onnx"}, "", 0, []string{"song.mp3 audio", "weights.onnx model"}},
		{"mime only", nil, "image/png", 0, []string{"image/png image"}},
		{"small generic file", []string{"blob.bin"}, "", 100, []string{"blob.bin generic (small_file)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, RunClassify(&out, tt.names, tt.contentType, tt.size, false))
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, strings.Fields(want), strings.Fields(lines[i]))
			}
		})
	}

	assert.Error(t, RunClassify(&bytes.Buffer{}, nil, "", 0, false))
}

func TestRunSelect(t *testing.T) {
	isolateHome(t)
	cfgPath := writeTestConfig(t, nil)
	docPath := writeDocument(t, "routing.yaml", routing.RoutingConfigDocument{
		Version:      "1.1.0",
		Backends:     []string{"ipfs", "s3"},
		CustomRoutes: map[string]string{"tenant-a": "s3"},
	})

	tests := []struct {
		name    string
		in      SelectInput
		want    string
		wantErr bool
	}{
		{"round robin", SelectInput{Filename: "a.mp4", Strategy: "round_robin"}, "ipfs", false},
		{"restricted", SelectInput{Filename: "a.mp4", Backends: []string{"s3"}}, "s3", false},
		{"custom route from document", SelectInput{RoutingKey: "tenant-a", DocumentPath: docPath}, "s3", false},
		{"unknown strategy", SelectInput{Strategy: "teleport"}, "", true},
		{"unknown priority", SelectInput{Priority: "urgent"}, "", true},
		{"missing document", SelectInput{DocumentPath: filepath.Join(t.TempDir(), "nope.yaml")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := RunSelect(&out, cfgPath, tt.in, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			first := strings.SplitN(out.String(), "\n", 2)[0]
			assert.Equal(t, tt.want, first)
			assert.Contains(t, out.String(), "reason:")
		})
	}
}

func TestRunSelectJSON(t *testing.T) {
	isolateHome(t)
	cfgPath := writeTestConfig(t, nil)

	var out bytes.Buffer
	require.NoError(t, RunSelect(&out, cfgPath, SelectInput{Filename: "scan.tiff", Strategy: "hybrid"}, true))
	var d routing.RoutingDecision
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.Equal(t, routing.CategoryImage, d.Category)
	assert.Contains(t, []string{"ipfs", "s3"}, d.SelectedBackend)
	assert.Len(t, d.Scores, 2)
}

func TestInitAndValidateConfig(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, InitConfig(path, false))
	assert.FileExists(t, path)
	assert.Error(t, InitConfig(path, false))
	require.NoError(t, InitConfig(path, true))

	var out bytes.Buffer
	require.NoError(t, ValidateConfig(&out, path))
	assert.Contains(t, out.String(), "Configuration OK ("+path+")")
	assert.Contains(t, out.String(), "ipfs, filecoin, s3, storacha")
	assert.Contains(t, out.String(), "persistence:      none")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("router:\n  default_strategy: telepathy\n"), 0644))
	assert.Error(t, ValidateConfig(&bytes.Buffer{}, bad))
}

func TestValidateDefaults(t *testing.T) {
	isolateHome(t)
	var out bytes.Buffer
	require.NoError(t, ValidateConfig(&out, ""))
	assert.Contains(t, out.String(), "built-in defaults")
}

func TestLocalImportExport(t *testing.T) {
	isolateHome(t)
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "router.db")
	cfgPath := writeTestConfig(t, func(cfg *config.Config) {
		cfg.SQLite.Enabled = true
		cfg.SQLite.Path = dbPath
	})
	docPath := writeDocument(t, "routing.json", routing.RoutingConfigDocument{
		Version:       "1.1.0",
		Backends:      []string{"gcs"},
		RouteMappings: map[routing.ContentCategory]map[string]float64{routing.CategoryVideo: {"gcs": 3, "s3": 1}},
	})

	var out bytes.Buffer
	require.NoError(t, ImportLocal(ctx, &out, cfgPath, docPath, true))
	assert.Contains(t, out.String(), "is valid")

	out.Reset()
	require.NoError(t, ImportLocal(ctx, &out, cfgPath, docPath, false))
	assert.Contains(t, out.String(), "Imported")

	out.Reset()
	require.NoError(t, ExportLocal(ctx, &out, cfgPath, "json", ""))
	var doc routing.RoutingConfigDocument
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, []string{"ipfs", "s3", "gcs"}, doc.Backends)
	assert.InDelta(t, 0.75, doc.RouteMappings[routing.CategoryVideo]["gcs"], 1e-9)

	yamlOut := filepath.Join(t.TempDir(), "export", "routing.yaml")
	require.NoError(t, ExportLocal(ctx, &bytes.Buffer{}, cfgPath, "yaml", yamlOut))
	roundTrip, err := readDocument(yamlOut)
	require.NoError(t, err)
	assert.Equal(t, doc.Backends, roundTrip.Backends)

	assert.Error(t, ExportLocal(ctx, &bytes.Buffer{}, cfgPath, "toml", ""))
}

func TestLocalImportWithoutStore(t *testing.T) {
	isolateHome(t)
	ctx := context.Background()
	cfgPath := writeTestConfig(t, nil)
	docPath := writeDocument(t, "routing.yaml", routing.RoutingConfigDocument{Version: "1.0", Backends: []string{"ipfs"}})
	futurePath := writeDocument(t, "future.yaml", routing.RoutingConfigDocument{Version: "2.1.0"})

	require.NoError(t, ImportLocal(ctx, &bytes.Buffer{}, cfgPath, docPath, true))

	err := ImportLocal(ctx, &bytes.Buffer{}, cfgPath, docPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no persistent store")

	assert.Error(t, ImportLocal(ctx, &bytes.Buffer{}, cfgPath, futurePath, true))
}

func TestRemoteCommands(t *testing.T) {
	cfg := routing.DefaultEngineConfig()
	cfg.Seed = 1
	engine, err := routing.NewEngine(cfg, "ipfs", "s3")
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	engine.RecordOutcome(routing.Outcome{Backend: "s3", Success: true, Latency: 30 * time.Millisecond, SizeBytes: 1024})

	srv, err := server.NewServer("127.0.0.1:0", server.Options{Engine: engine})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, ShowStatus(ctx, &out, ts.URL))
	assert.Contains(t, out.String(), "status:")
	assert.Contains(t, out.String(), "healthy")

	out.Reset()
	require.NoError(t, ShowStats(ctx, &out, ts.URL, ""))
	assert.Contains(t, out.String(), "BACKEND")
	assert.Contains(t, out.String(), "ipfs")

	out.Reset()
	require.NoError(t, ShowStats(ctx, &out, ts.URL, "s3"))
	assert.Contains(t, out.String(), "1024")

	err = ShowStats(ctx, &bytes.Buffer{}, ts.URL, "gcs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	out.Reset()
	require.NoError(t, ExportRemote(ctx, &out, ts.URL, "yaml", ""))
	var doc routing.RoutingConfigDocument
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, []string{"ipfs", "s3"}, doc.Backends)

	doc.Backends = append(doc.Backends, "filecoin")
	docPath := writeDocument(t, "routing.json", doc)

	out.Reset()
	require.NoError(t, ImportRemote(ctx, &out, ts.URL, docPath, true))
	assert.Contains(t, out.String(), "valid")
	assert.False(t, engine.IsRegistered("filecoin"))

	out.Reset()
	require.NoError(t, ImportRemote(ctx, &out, ts.URL, docPath, false))
	assert.Contains(t, out.String(), "imported")
	assert.True(t, engine.IsRegistered("filecoin"))

	assert.Error(t, ShowStatus(ctx, &bytes.Buffer{}, "http://127.0.0.1:1"))
}

func TestResolveServerURL(t *testing.T) {
	isolateHome(t)
	cfgPath := writeTestConfig(t, func(cfg *config.Config) {
		cfg.Server.Host = "0.0.0.0"
		cfg.Server.Port = 9123
	})

	assert.Equal(t, "http://router.local:8090", resolveServerURL(cfgPath, "http://router.local:8090/"))
	assert.Equal(t, "http://127.0.0.1:9123", resolveServerURL(cfgPath, ""))
	assert.Equal(t, "http://127.0.0.1:8090", resolveServerURL("", ""))
}

func TestServeUntilSignal(t *testing.T) {
	isolateHome(t)
	cfgPath := writeTestConfig(t, nil)
	cfg, used, err := LoadConfigWithFallback(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, used)

	stop := make(chan os.Signal, 1)
	stop <- syscall.SIGTERM

	done := make(chan error, 1)
	go func() { done <- serveUntil(cfg, used, stop) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("router did not shut down")
	}
}
