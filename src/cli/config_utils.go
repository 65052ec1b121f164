package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"content-router/src/config"
	"content-router/src/internal/common"
	"content-router/src/routing"
)

// LoadConfigWithFallback loads the configuration for a command. An explicit
// path must load; otherwise the default file is tried and built-in defaults
// are the last resort. The returned path is the file that was used, if any.
func LoadConfigWithFallback(configPath string) (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, configPath, nil
	}

	defaultConfigPath := config.GetDefaultConfigPath()
	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.LoadConfig(defaultConfigPath)
		if err == nil {
			return cfg, defaultConfigPath, nil
		}
		common.CLILogger.Warn("Failed to load default config from %s, using defaults: %v", defaultConfigPath, err)
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// resolveServerURL picks the router base URL: the flag when set, otherwise
// the configured listen address.
func resolveServerURL(configPath, flagValue string) string {
	if flagValue != "" {
		return strings.TrimRight(flagValue, "/")
	}
	cfg, _, err := LoadConfigWithFallback(configPath)
	if err != nil {
		common.CLILogger.Debug("Using default server address: %v", err)
		cfg = config.GetDefaultConfig()
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// readDocument loads a routing document. Files ending in .json are read as
// JSON and everything else as YAML.
func readDocument(path string) (routing.RoutingConfigDocument, error) {
	var doc routing.RoutingConfigDocument
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("failed to read routing document: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("failed to parse routing document %s: %w", path, err)
	}
	return doc, nil
}

func encodeDocument(doc routing.RoutingConfigDocument, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// writeOutput sends data to path, or to w when path is empty
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	common.CLILogger.Info("Wrote %s", path)
	return nil
}
