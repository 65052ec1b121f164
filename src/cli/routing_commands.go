package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"content-router/src/config"
	"content-router/src/internal/common"
	"content-router/src/routing"
	"content-router/src/storage"
)

// ClassifyResult is one line of `content-router classify`
type ClassifyResult struct {
	Name         string                  `json:"name,omitempty"`
	Category     routing.ContentCategory `json:"category"`
	SizeCategory routing.ContentCategory `json:"size_category"`
}

// RunClassify prints the category of every named item. With no names, the
// content type and size alone are classified.
func RunClassify(w io.Writer, names []string, contentType string, size int64, asJSON bool) error {
	if len(names) == 0 && contentType == "" {
		return fmt.Errorf("nothing to classify: pass file names or --%s", FlagContentType)
	}
	if len(names) == 0 {
		names = []string{""}
	}

	results := make([]ClassifyResult, 0, len(names))
	for _, name := range names {
		info := routing.ContentInfo{Filename: name, ContentType: contentType, SizeBytes: size}
		results = append(results, ClassifyResult{
			Name:         name,
			Category:     routing.Classify(info),
			SizeCategory: routing.ClassifyWithSize(info),
		})
	}

	if asJSON {
		return printJSON(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = contentType
		}
		if r.SizeCategory != r.Category {
			fmt.Fprintf(tw, "%s\t%s\t(%s)\n", name, r.Category, r.SizeCategory)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", name, r.Category)
		}
	}
	return tw.Flush()
}

// SelectInput carries the flags of `content-router select`
type SelectInput struct {
	Filename     string
	ContentType  string
	SizeBytes    int64
	Strategy     string
	Priority     string
	Region       string
	Backends     []string
	RoutingKey   string
	DocumentPath string
}

// RunSelect makes one routing decision on an engine built from configuration
func RunSelect(w io.Writer, configPath string, in SelectInput, asJSON bool) error {
	cfg, _, err := LoadConfigWithFallback(configPath)
	if err != nil {
		return err
	}
	engine, err := newOfflineEngine(cfg, in.DocumentPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	decision, err := engine.Select(routing.ContentInfo{
		Filename:    in.Filename,
		ContentType: in.ContentType,
		SizeBytes:   in.SizeBytes,
		RoutingKey:  in.RoutingKey,
	}, routing.SelectOptions{
		Strategy:          routing.Strategy(in.Strategy),
		Priority:          routing.Priority(in.Priority),
		ClientLocation:    in.Region,
		AvailableBackends: in.Backends,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, decision)
	}
	fmt.Fprintf(w, "%s\n", decision.SelectedBackend)
	fmt.Fprintf(w, "  category: %s\n", decision.Category)
	fmt.Fprintf(w, "  strategy: %s\n", decision.Strategy)
	fmt.Fprintf(w, "  reason:   %s\n", decision.Reason)
	if len(decision.Scores) > 0 {
		fmt.Fprintf(w, "  scores:   %s\n", formatScores(decision.Candidates, decision.Scores))
	}
	return nil
}

// newOfflineEngine builds an engine that never starts background work
func newOfflineEngine(cfg *config.Config, documentPath string) (*routing.Engine, error) {
	cfg.Router.AutoStartUpdates = false
	engine, err := cfg.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create routing engine: %w", err)
	}
	if documentPath == "" {
		return engine, nil
	}
	doc, err := readDocument(documentPath)
	if err != nil {
		engine.Close()
		return nil, err
	}
	if err := engine.ImportRoutingConfig(doc); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

// InitConfig writes the default configuration
func InitConfig(path string, overwrite bool) error {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --%s to overwrite)", path, FlagForce)
	}
	if err := config.GenerateDefaultConfig(path); err != nil {
		return err
	}
	common.CLILogger.Info("Wrote default configuration to %s", path)
	return nil
}

// ValidateConfig loads a configuration and prints what it would run with
func ValidateConfig(w io.Writer, configPath string) error {
	cfg, used, err := LoadConfigWithFallback(configPath)
	if err != nil {
		return err
	}
	if _, err := cfg.ToEngineConfig(); err != nil {
		return err
	}

	source := used
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(w, "Configuration OK (%s)\n", source)
	fmt.Fprintf(w, "  backends:         %s\n", strings.Join(cfg.Router.Backends, ", "))
	fmt.Fprintf(w, "  default strategy: %s\n", cfg.Router.DefaultStrategy)
	fmt.Fprintf(w, "  update interval:  %s\n", cfg.UpdateInterval())
	fmt.Fprintf(w, "  listen address:   %s\n", cfg.Server.Address())
	fmt.Fprintf(w, "  prober:           %s\n", cfg.Network.Prober)
	fmt.Fprintf(w, "  persistence:      %s\n", describePersistence(cfg))
	return nil
}

func describePersistence(cfg *config.Config) string {
	var parts []string
	if cfg.SQLite.Enabled {
		parts = append(parts, "sqlite "+cfg.SQLite.Path)
	}
	if cfg.MongoDB.Enabled {
		parts = append(parts, "mongodb "+cfg.MongoDB.Database)
	}
	if cfg.Redis.Enabled {
		parts = append(parts, "redis cache "+cfg.Redis.Address)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// openLocalState builds an offline engine with the persisted routing state applied
func openLocalState(ctx context.Context, configPath string) (*routing.Engine, *storage.Stores, error) {
	cfg, _, err := LoadConfigWithFallback(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Redis.Enabled = false
	engine, err := newOfflineEngine(cfg, "")
	if err != nil {
		return nil, nil, err
	}
	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	if _, err := storage.Restore(ctx, stores.State, engine); err != nil {
		stores.Close()
		engine.Close()
		return nil, nil, err
	}
	return engine, stores, nil
}

// ExportLocal exports the persisted routing state, or the configured one
// when no store is enabled
func ExportLocal(ctx context.Context, w io.Writer, configPath, format, out string) error {
	engine, stores, err := openLocalState(ctx, configPath)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer stores.Close()

	data, err := encodeDocument(engine.ExportRoutingConfig(), format)
	if err != nil {
		return err
	}
	return writeOutput(w, out, data)
}

// ImportLocal validates a document against the persisted state and, unless
// dryRun is set, applies and saves it
func ImportLocal(ctx context.Context, w io.Writer, configPath, path string, dryRun bool) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	engine, stores, err := openLocalState(ctx, configPath)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer stores.Close()

	if err := engine.ValidateRoutingConfig(doc); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(w, "%s is valid (version %s, %d backends, %d mappings)\n",
			path, doc.Version, len(doc.Backends), len(doc.RouteMappings))
		return nil
	}
	if stores.State == nil {
		return fmt.Errorf("no persistent store is enabled; enable sqlite or mongodb, or use --%s", FlagServer)
	}
	if err := engine.ImportRoutingConfig(doc); err != nil {
		return err
	}
	if err := storage.Snapshot(ctx, stores.State, engine); err != nil {
		return err
	}
	fmt.Fprintf(w, "Imported %s into the routing store\n", path)
	return nil
}
