package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/cmd/voicewire/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(build.String())
		if !IsVerbose() {
			return
		}
		fmt.Printf("  go:     %s\n", runtime.Version())
		cfg, err := GetConfig()
		if err != nil {
			fmt.Printf("  config: (unavailable: %v)\n", err)
			return
		}
		fmt.Printf("  config: %s\n", cfg.Dir)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
