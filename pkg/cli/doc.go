// Package cli provides shared helpers for the voicewire command-line
// tool.
//
// This package includes:
//   - Directory layout under the voicewire base dir (config, data, tapes)
//   - Output formatting (JSON, YAML, raw) and terminal print helpers
//   - A bordered terminal frame for the live console
//   - A log writer that captures slog output for in-frame display
//
// The base directory is $XDG_CONFIG_HOME/voicewire when XDG_CONFIG_HOME
// is set, otherwise ~/.voicewire. Context management on top of that
// layout lives in cmd/voicewire/internal/config.
package cli
