// Package commands implements the voicewire CLI command tree.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/cmd/voicewire/internal/config"
)

var verbose bool

// initConfig refreshes these on every Execute. Commands read the tree
// through GetConfig so a failed load surfaces there, with context.
var (
	globalConfig  *config.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "voicewire",
	Short: "Realtime voice conversation client and relay",
	Long: `voicewire - push-to-talk voice conversations over a realtime relay.

Commands:
  console    Interactive push-to-talk console (microphone and speaker)
  relay      Run the relay server that bridges clients to the model
  turns      Inspect the recorded turn log
  devices    List audio input and output devices
  config     Manage contexts and service configuration

Configuration lives under $XDG_CONFIG_HOME/voicewire (or ~/.voicewire):
a current-context file plus per-context voicewire.yaml service files.

Examples:
  # Create a context and point the console at a relay
  voicewire config add-context dev
  voicewire config set dev voicewire url http://relay.local:8990
  voicewire config set dev voicewire token SECRET
  voicewire config use-context dev

  # Run a relay and talk to it
  voicewire relay --model gpt-realtime
  voicewire console --tape

  # Look back at what was said
  voicewire turns list
  voicewire turns show turn_b31a --jq .transcript`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig loads the config tree without failing the command, so
// config-free commands like 'voicewire version' run even when HOME is
// broken.
func initConfig() {
	globalConfig, configLoadErr = nil, nil
	if cfg, err := config.Load(); err != nil {
		configLoadErr = err
	} else {
		globalConfig = cfg
	}
}

// GetConfig hands commands the loaded configuration tree, or the error
// that kept it from loading.
func GetConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	if configLoadErr != nil {
		return nil, fmt.Errorf("config not available: %w", configLoadErr)
	}

	// Called before cobra initialization; load directly.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config not available: %w", err)
	}
	globalConfig = cfg
	return globalConfig, nil
}

// IsVerbose reports whether --verbose was given.
func IsVerbose() bool {
	return verbose
}

// logLevel returns the slog level implied by --verbose.
func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// printVerbose prints to stderr when --verbose is set.
func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
