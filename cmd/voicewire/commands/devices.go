package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/audio/portaudio"
	"github.com/voicewire/voicewire/pkg/cli"
)

var devicesOutput string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input and output devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := portaudio.Devices()
		if err != nil {
			return fmt.Errorf("enumerate audio devices: %w", err)
		}
		defer portaudio.Terminate()

		if devicesOutput != "" {
			return cli.Output(devices, cli.OutputOptions{Format: cli.OutputFormat(devicesOutput)})
		}

		if len(devices) == 0 {
			fmt.Println("No audio devices found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tIN\tOUT\tRATE\t")
		for _, d := range devices {
			marker := ""
			if d.IsDefaultInput {
				marker += "default input "
			}
			if d.IsDefaultOutput {
				marker += "default output"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.0f\t%s\n",
				d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels,
				d.DefaultSampleRate, marker)
		}
		return w.Flush()
	},
}

func init() {
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "", "output format (yaml, json)")

	rootCmd.AddCommand(devicesCmd)
}
