package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/cli"
	"github.com/voicewire/voicewire/pkg/kv"
	"github.com/voicewire/voicewire/pkg/turnlog"
)

// turnLogPrefix namespaces turn records in the store. The console writes
// under the same prefix.
var turnLogPrefix = kv.Key{"turns"}

var (
	turnsDataDir      string
	turnsListSession  string
	turnsListLimit    int
	turnsShowJQ       string
	turnsShowOutput   string
	turnsClearSession string
	turnsClearAll     bool
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Inspect the recorded turn log",
	Long: `Inspect turns recorded by the console.

Without --session, 'turns list' shows one line per session. With a
session, it lists that session's turns newest first.

Examples:
  voicewire turns list
  voicewire turns list --session sess_9f2c
  voicewire turns show turn_b31a
  voicewire turns show turn_b31a --jq .transcript
  voicewire turns clear --session sess_9f2c`,
}

var turnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions or one session's turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		tlog, closer, err := openTurnLog()
		if err != nil {
			return err
		}
		defer closer.Close()
		ctx := cmd.Context()

		if turnsListSession == "" {
			sessions, err := tlog.Sessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No turns recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tTURNS\tFIRST\tLAST")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					s.SessionID, s.Turns,
					s.FirstAt.Time().Format("2006-01-02 15:04:05"),
					s.LastAt.Time().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		}

		recs, err := tlog.Recent(ctx, turnsListSession, turnsListLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Printf("No turns recorded for session %s.\n", turnsListSession)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TURN\tSTARTED\tCAPTURED\tPLAYED\tOUTCOME\tTRANSCRIPT")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.TurnID,
				r.StartedAt.Time().Format("15:04:05"),
				cli.FormatDuration(int(r.Captured.Milliseconds())),
				cli.FormatDuration(int(r.Played.Milliseconds())),
				r.Outcome,
				clip(r.Transcript, 48))
		}
		return w.Flush()
	},
}

var turnsShowCmd = &cobra.Command{
	Use:   "show <turn-id>",
	Short: "Show one turn record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tlog, closer, err := openTurnLog()
		if err != nil {
			return err
		}
		defer closer.Close()

		rec, err := tlog.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if turnsShowJQ != "" {
			return runJQ(turnsShowJQ, rec)
		}
		return cli.Output(rec, cli.OutputOptions{Format: cli.OutputFormat(turnsShowOutput)})
	},
}

var turnsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !turnsClearAll && turnsClearSession == "" {
			return fmt.Errorf("specify --session <id> or --all")
		}

		tlog, closer, err := openTurnLog()
		if err != nil {
			return err
		}
		defer closer.Close()
		ctx := cmd.Context()

		if turnsClearAll {
			sessions, err := tlog.Sessions(ctx)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				if err := tlog.Clear(ctx, s.SessionID); err != nil {
					return fmt.Errorf("clear session %s: %w", s.SessionID, err)
				}
			}
			cli.PrintSuccess("Cleared %d session(s)", len(sessions))
			return nil
		}

		if err := tlog.Clear(ctx, turnsClearSession); err != nil {
			return err
		}
		cli.PrintSuccess("Cleared session %s", turnsClearSession)
		return nil
	},
}

// openTurnLog opens the store the console records to. The caller closes
// the returned closer when done.
func openTurnLog() (*turnlog.Log, io.Closer, error) {
	cfg := loadServiceConfig(contextName)
	if turnsDataDir != "" {
		cfg.DataDir = turnsDataDir
	}
	turnsDir, _, err := dataDirs(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: turnsDir})
	if err != nil {
		return nil, nil, fmt.Errorf("open turn log at %s: %w", turnsDir, err)
	}
	return turnlog.New(store, turnLogPrefix), store, nil
}

// runJQ applies a jq expression to the record's JSON form and prints
// each result. Strings print bare so '--jq .transcript' pipes cleanly.
func runJQ(expr string, rec *turnlog.Record) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	iter := query.Run(v)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		switch t := out.(type) {
		case string:
			fmt.Println(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
		}
	}
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	turnsCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	turnsCmd.PersistentFlags().StringVar(&turnsDataDir, "data-dir", "", "override the turn log directory")

	turnsListCmd.Flags().StringVar(&turnsListSession, "session", "", "list turns for this session")
	turnsListCmd.Flags().IntVar(&turnsListLimit, "limit", 50, "maximum turns to list")

	turnsShowCmd.Flags().StringVar(&turnsShowJQ, "jq", "", "jq expression to apply to the record")
	turnsShowCmd.Flags().StringVarP(&turnsShowOutput, "output", "o", "yaml", "output format (yaml, json)")

	turnsClearCmd.Flags().StringVar(&turnsClearSession, "session", "", "session to clear")
	turnsClearCmd.Flags().BoolVar(&turnsClearAll, "all", false, "clear every session")

	turnsCmd.AddCommand(turnsListCmd)
	turnsCmd.AddCommand(turnsShowCmd)
	turnsCmd.AddCommand(turnsClearCmd)

	rootCmd.AddCommand(turnsCmd)
}
