package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/cmd/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage contexts and service settings",
	Long: `Manage contexts and service configurations.

A context is a named directory of per-service YAML files. The console
and relay read the "voicewire" service file of whichever context is
current or named with --context. Credentials print masked; see
'config get --reveal'.

Examples:
  voicewire config add-context staging
  voicewire config use-context dev
  voicewire config set dev voicewire api_key sk-xxx
  voicewire config get dev voicewire model
  voicewire config edit dev voicewire`,
}

// validateServiceName rejects names that would escape the context
// directory or hide the file.
func validateServiceName(service string) error {
	switch {
	case service == "":
		return fmt.Errorf("service name cannot be empty")
	case strings.ContainsAny(service, `/\`):
		return fmt.Errorf("service name %q must not contain path separators", service)
	case strings.HasPrefix(service, "."):
		return fmt.Errorf("service name %q must not start with '.'", service)
	}
	return nil
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		names, err := cfg.ListContexts()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("Create one with: voicewire config add-context <name>")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer tw.Flush()
		fmt.Fprintln(tw, "CURRENT\tNAME\tSERVICES")
		for _, name := range names {
			marker := ""
			if name == cfg.CurrentContext {
				marker = "*"
			}
			services, _ := config.ListServices(cfg.ContextDir(name))
			fmt.Fprintf(tw, "%s\t%s\t%s\n", marker, name, strings.Join(services, ", "))
		}
		return nil
	},
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Create a new context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.AddContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Context %q created.\n", args[0])
		fmt.Printf("Configure it with: voicewire config set %s voicewire <key> <value>\n", args[0])
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context and all its service configs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Context %q deleted.\n", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Switched to context %q.\n", args[0])
		return nil
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Display the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set.")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

// readServiceMap loads a service file as a loose map. A missing or
// empty file yields an empty map.
func readServiceMap(cfg *config.Config, ctxName, service string) (map[string]any, error) {
	if _, err := os.Stat(cfg.ServicePath(ctxName, service)); os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	m, err := config.LoadService[map[string]any](cfg.ContextDir(ctxName), service)
	if err != nil {
		return nil, fmt.Errorf("cannot read existing %s config: %w", service, err)
	}
	if *m == nil {
		return map[string]any{}, nil
	}
	return *m, nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <service> <key> <value>",
	Short: "Set a service config value",
	Long: `Set a key-value pair in a service's YAML config file.

Examples:
  voicewire config set dev voicewire api_key sk-xxxx
  voicewire config set dev voicewire url http://relay.local:8990
  voicewire config set dev voicewire voice alloy`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key, value := args[0], args[1], args[2], args[3]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}
		contextDir := cfg.ContextDir(ctxName)
		if _, err := os.Stat(contextDir); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}

		settings, err := readServiceMap(cfg, ctxName, service)
		if err != nil {
			return err
		}
		settings[key] = value
		if err := config.SaveService(contextDir, service, &settings); err != nil {
			return err
		}

		shown := value
		if cli.IsSecretKey(key) {
			shown = cli.MaskAPIKey(value)
		}
		fmt.Printf("Set %s.%s = %s (context: %s)\n", service, key, shown, ctxName)
		return nil
	},
}

var configGetReveal bool

var configGetCmd = &cobra.Command{
	Use:   "get <context> <service> <key>",
	Short: "Get a service config value (credentials shown masked)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key := args[0], args[1], args[2]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}

		m, err := config.LoadService[map[string]any](cfg.ContextDir(ctxName), service)
		if err != nil {
			return err
		}
		if *m == nil {
			return fmt.Errorf("key %q not found in %s config (file is empty)", key, service)
		}
		val, ok := (*m)[key]
		if !ok {
			return fmt.Errorf("key %q not found in %s config", key, service)
		}

		if s, isString := val.(string); isString && cli.IsSecretKey(key) && !configGetReveal {
			fmt.Println(cli.MaskAPIKey(s))
			return nil
		}
		fmt.Println(val)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit <context> <service>",
	Short: "Open a service config in the default editor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service := args[0], args[1]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}
		if _, err := os.Stat(cfg.ContextDir(ctxName)); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}

		// Seed the file so the editor has something to save over.
		path := cfg.ServicePath(ctxName, service)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte("# "+service+" configuration\n"), 0600); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		printVerbose("opening %s with %s", path, editor)

		c := exec.Command(editor, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	configGetCmd.Flags().BoolVar(&configGetReveal, "reveal", false, "print credentials unmasked")

	configCmd.AddCommand(
		configListContextsCmd,
		configAddContextCmd,
		configDeleteContextCmd,
		configUseContextCmd,
		configCurrentContextCmd,
		configSetCmd,
		configGetCmd,
		configEditCmd,
	)
	rootCmd.AddCommand(configCmd)
}
