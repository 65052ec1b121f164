package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDirName is the per-user directory holding configuration and state
const DataDirName = ".content-router"

// DataDir returns ~/.content-router, or ./.content-router when the home
// directory cannot be determined.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return filepath.Join(".", DataDirName)
	}
	return filepath.Join(homeDir, DataDirName)
}

// DataPath joins elem onto DataDir
func DataPath(elem ...string) string {
	return filepath.Join(append([]string{DataDir()}, elem...)...)
}

// ExpandPath expands a leading ~ to the user's home directory.
// Paths of the form ~user are returned unchanged.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path == "~" {
		return homeDir, nil
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}
