package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// Per-service settings live as one YAML file per service inside the
// context directory, so service "voicewire" in context "dev" is
// contexts/dev/voicewire.yaml. Files are written 0600: they routinely
// hold API keys.

// ServicePath returns the YAML file backing a service in a context.
func (c *Config) ServicePath(context, service string) string {
	return serviceFile(c.ContextDir(context), service)
}

func serviceFile(contextDir, service string) string {
	return filepath.Join(contextDir, service+".yaml")
}

// LoadService reads and decodes one service's file from a context
// directory.
func LoadService[T any](contextDir, service string) (*T, error) {
	path := serviceFile(contextDir, service)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, fmt.Errorf("service config %q not found in context (expected: %s)", service, path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := new(T)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveService encodes v into the service's file, creating the context
// directory as needed.
func SaveService[T any](contextDir, service string, v *T) error {
	if err := os.MkdirAll(contextDir, 0755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s config: %w", service, err)
	}
	path := serviceFile(contextDir, service)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ListServices names the services configured in a context directory,
// one per YAML file. A missing directory is an empty context.
func ListServices(contextDir string) ([]string, error) {
	entries, err := os.ReadDir(contextDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}
