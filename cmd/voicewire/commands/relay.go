package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/cli"
	"github.com/voicewire/voicewire/pkg/relay"
)

var (
	relayListen       string
	relayToken        string
	relayAPIKey       string
	relayUpstream     string
	relayModel        string
	relayVoice        string
	relayInstructions string
	relayTools        string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay server",
	Long: `Run the relay that bridges console clients to the upstream
realtime API.

Clients connect over WebSocket or WebRTC and never see the upstream
API key. The key comes from the context config (api_key) or the
OPENAI_API_KEY environment variable; the client bearer token from the
config (token) or VOICEWIRE_TOKEN.

Examples:
  voicewire relay
  voicewire relay --listen :9000 --model gpt-realtime --voice marin
  voicewire relay --tools tools.yaml
  voicewire relay check`,
	RunE: runRelay,
}

var relayCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the upstream API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadServiceConfig(contextName)
		if relayAPIKey != "" {
			cfg.APIKey = relayAPIKey
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("upstream API key is required. Set OPENAI_API_KEY or configure a context:\n" +
				"  voicewire config set dev voicewire api_key <key>")
		}
		if err := relay.CheckAPIKey(cmd.Context(), cfg.APIKey); err != nil {
			return err
		}
		cli.PrintSuccess("Upstream key OK (%s)", cli.MaskAPIKey(cfg.APIKey))
		return nil
	},
}

func init() {
	relayCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	relayCmd.PersistentFlags().StringVar(&relayAPIKey, "api-key", "", "upstream API key (prefer config or OPENAI_API_KEY)")
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "listen address (default :8990)")
	relayCmd.Flags().StringVar(&relayToken, "token", "", "bearer token clients must present")
	relayCmd.Flags().StringVar(&relayUpstream, "upstream", "", "upstream realtime URL")
	relayCmd.Flags().StringVar(&relayModel, "model", "", "model to request upstream")
	relayCmd.Flags().StringVar(&relayVoice, "voice", "", "assistant voice")
	relayCmd.Flags().StringVar(&relayInstructions, "instructions", "", "system instructions for the session")
	relayCmd.Flags().StringVar(&relayTools, "tools", "", "tool definitions file (YAML or JSON)")

	relayCmd.AddCommand(relayCheckCmd)
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg := loadServiceConfig(contextName)

	// Apply command-line overrides
	if relayListen != "" {
		cfg.Listen = relayListen
	}
	if relayToken != "" {
		cfg.Token = relayToken
	}
	if relayAPIKey != "" {
		cfg.APIKey = relayAPIKey
	}
	if relayUpstream != "" {
		cfg.UpstreamURL = relayUpstream
	}
	if relayModel != "" {
		cfg.Model = relayModel
	}
	if relayVoice != "" {
		cfg.Voice = relayVoice
	}
	if relayInstructions != "" {
		cfg.Instructions = relayInstructions
	}
	if relayTools != "" {
		cfg.Tools = relayTools
	}

	if cfg.APIKey == "" {
		return fmt.Errorf("upstream API key is required. Set OPENAI_API_KEY or configure a context:\n" +
			"  voicewire config set dev voicewire api_key <key>")
	}

	var tools *relay.ToolSet
	if cfg.Tools != "" {
		var err error
		tools, err = relay.LoadTools(cfg.Tools)
		if err != nil {
			return fmt.Errorf("load tools: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	r, err := relay.New(relay.Config{
		Listen:       cfg.Listen,
		Token:        cfg.Token,
		APIKey:       cfg.APIKey,
		UpstreamURL:  cfg.UpstreamURL,
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
		Tools:        tools,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return r.ListenAndServe(ctx)
}
