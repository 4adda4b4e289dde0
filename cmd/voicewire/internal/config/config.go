// Package config implements the context scheme the voicewire CLI
// stores its settings in.
//
// Everything lives under the voicewire base directory
// ($XDG_CONFIG_HOME/voicewire, or ~/.voicewire when XDG_CONFIG_HOME is
// unset):
//
//	voicewire/
//	├── current-context          # plain text: name of current context
//	└── contexts/
//	    ├── dev/
//	    │   └── voicewire.yaml
//	    └── prod/
//	        └── voicewire.yaml
//
// A context is a directory of per-service YAML files; the console and
// relay read the "voicewire" service file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicewire/voicewire/pkg/cli"
)

const (
	currentContextFile = "current-context"
	contextsDir        = "contexts"
)

// Config is the root of the context tree.
type Config struct {
	// Dir is the base configuration directory.
	Dir string

	// CurrentContext names the active context, empty when unset.
	CurrentContext string
}

// Load reads the tree at the default base directory.
func Load() (*Config, error) {
	base, err := cli.BaseDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine config directory: %w", err)
	}
	return LoadFrom(base)
}

// LoadFrom reads the tree rooted at dir. A missing current-context
// file just leaves CurrentContext empty.
func LoadFrom(dir string) (*Config, error) {
	cfg := &Config{Dir: dir}
	if data, err := os.ReadFile(filepath.Join(dir, currentContextFile)); err == nil {
		cfg.CurrentContext = strings.TrimSpace(string(data))
	}
	return cfg, nil
}

// ValidateContextName rejects names that would escape or hide the
// contexts directory.
func ValidateContextName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("context name cannot be empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("context name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("context name %q must not start with '.'", name)
	}
	return nil
}

// ContextsDir is the directory all contexts live under.
func (c *Config) ContextsDir() string {
	return filepath.Join(c.Dir, contextsDir)
}

// ContextDir is the directory of one named context.
func (c *Config) ContextDir(name string) string {
	return filepath.Join(c.ContextsDir(), name)
}

func (c *Config) contextExists(name string) bool {
	_, err := os.Stat(c.ContextDir(name))
	return err == nil
}

// CurrentContextDir resolves the active context's directory.
func (c *Config) CurrentContextDir() (string, error) {
	if c.CurrentContext == "" {
		return "", fmt.Errorf("no current context set; use 'voicewire config use-context <name>'")
	}
	return c.ContextDir(c.CurrentContext), nil
}

// ResolveContext picks the named context, or the current one when name
// is empty.
func (c *Config) ResolveContext(name string) (string, error) {
	if name == "" {
		return c.CurrentContextDir()
	}
	if !c.contextExists(name) {
		return "", fmt.Errorf("context %q not found", name)
	}
	return c.ContextDir(name), nil
}

// ListContexts names every context, in directory-listing order.
func (c *Config) ListContexts() ([]string, error) {
	entries, err := os.ReadDir(c.ContextsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// AddContext creates an empty context.
func (c *Config) AddContext(name string) error {
	if err := ValidateContextName(name); err != nil {
		return err
	}
	if c.contextExists(name) {
		return fmt.Errorf("context %q already exists", name)
	}
	if err := os.MkdirAll(c.ContextDir(name), 0755); err != nil {
		return fmt.Errorf("create context %q: %w", name, err)
	}
	return nil
}

// DeleteContext removes a context with all its service files, clearing
// the current-context marker when it pointed there.
func (c *Config) DeleteContext(name string) error {
	if err := ValidateContextName(name); err != nil {
		return err
	}
	if !c.contextExists(name) {
		return fmt.Errorf("context %q not found", name)
	}
	if err := os.RemoveAll(c.ContextDir(name)); err != nil {
		return fmt.Errorf("delete context %q: %w", name, err)
	}
	if c.CurrentContext == name {
		c.CurrentContext = ""
		return c.saveCurrentContext()
	}
	return nil
}

// UseContext makes name the current context.
func (c *Config) UseContext(name string) error {
	if err := ValidateContextName(name); err != nil {
		return err
	}
	if !c.contextExists(name) {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.saveCurrentContext()
}

func (c *Config) saveCurrentContext() error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(c.Dir, currentContextFile)
	return os.WriteFile(path, []byte(c.CurrentContext+"\n"), 0644)
}
