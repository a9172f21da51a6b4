// Package configfiles provides the embedded configuration template used to
// scaffold a fresh installation.
package configfiles

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed config.example.yaml
var configFS embed.FS

// ConfigExample returns the example configuration file content.
func ConfigExample() []byte {
	data, err := configFS.ReadFile("config.example.yaml")
	if err != nil {
		// The file is embedded at build time; this cannot fail.
		panic(err)
	}
	return data
}

// WriteExample writes the example configuration to path unless a file
// already exists there. It reports whether the file was created.
func WriteExample(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, ConfigExample(), 0o644); err != nil {
		return false, fmt.Errorf("write example config: %w", err)
	}
	return true, nil
}
