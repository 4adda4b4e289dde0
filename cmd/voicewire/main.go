// Package main is the entry point for the voicewire CLI.
//
// Usage:
//
//	voicewire [flags] <command> [subcommand] [args]
//
// Commands:
//
//	console    - Interactive push-to-talk console
//	relay      - Relay server bridging clients to the realtime API
//	turns      - Inspect the recorded turn log (list, show, clear)
//	devices    - List audio input and output devices
//	config     - Configuration management (contexts, services)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/voicewire/voicewire/cmd/voicewire/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
