package commands

import (
	"os"
	"path/filepath"

	"github.com/voicewire/voicewire/cmd/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/cli"
)

// serviceName is the per-context YAML file both the console and the
// relay read their settings from.
const serviceName = "voicewire"

// contextName is the --context flag shared by the commands that read
// service config.
var contextName string

// ServiceConfig is the per-context voicewire.yaml schema.
type ServiceConfig struct {
	// Console settings.
	URL       string `yaml:"url"`       // relay base URL
	Token     string `yaml:"token"`     // relay bearer token
	Transport string `yaml:"transport"` // websocket or webrtc

	// Relay settings.
	APIKey       string `yaml:"api_key"` // upstream API key
	Listen       string `yaml:"listen"`
	UpstreamURL  string `yaml:"upstream_url"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
	Tools        string `yaml:"tools"` // path to a tool definitions file

	// Shared settings.
	DataDir string `yaml:"data_dir"` // overrides the default turn log / tape location
}

func defaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		URL:       "http://127.0.0.1:8990",
		Transport: "websocket",
	}
}

// loadServiceConfig resolves the voicewire service config for a context.
// Precedence below command-line flags: service file, then environment
// (OPENAI_API_KEY, VOICEWIRE_TOKEN), then built-in defaults.
func loadServiceConfig(contextName string) *ServiceConfig {
	cfg := defaultServiceConfig()

	rootCfg, err := config.Load()
	if err != nil {
		applyEnvFallbacks(cfg)
		return cfg
	}
	contextDir, err := rootCfg.ResolveContext(contextName)
	if err != nil {
		applyEnvFallbacks(cfg)
		return cfg
	}

	svc, err := config.LoadService[ServiceConfig](contextDir, serviceName)
	if err != nil {
		applyEnvFallbacks(cfg)
		return cfg
	}

	// Merge loaded values into defaults
	if svc.URL != "" {
		cfg.URL = svc.URL
	}
	if svc.Token != "" {
		cfg.Token = svc.Token
	}
	if svc.Transport != "" {
		cfg.Transport = svc.Transport
	}
	if svc.APIKey != "" {
		cfg.APIKey = svc.APIKey
	}
	if svc.Listen != "" {
		cfg.Listen = svc.Listen
	}
	if svc.UpstreamURL != "" {
		cfg.UpstreamURL = svc.UpstreamURL
	}
	if svc.Model != "" {
		cfg.Model = svc.Model
	}
	if svc.Voice != "" {
		cfg.Voice = svc.Voice
	}
	if svc.Instructions != "" {
		cfg.Instructions = svc.Instructions
	}
	if svc.Tools != "" {
		cfg.Tools = svc.Tools
	}
	if svc.DataDir != "" {
		cfg.DataDir = svc.DataDir
	}

	applyEnvFallbacks(cfg)
	return cfg
}

func applyEnvFallbacks(cfg *ServiceConfig) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("VOICEWIRE_TOKEN")
	}
}

// dataDirs resolves the turn log and tape directories. A data_dir
// override replaces the default location under the config base dir.
func dataDirs(override string) (turnsDir, tapesDir string, err error) {
	if override != "" {
		return filepath.Join(override, "turns"), filepath.Join(override, "tapes"), nil
	}
	p, err := cli.NewPaths()
	if err != nil {
		return "", "", err
	}
	return p.TurnsDir(), p.TapesDir(), nil
}
