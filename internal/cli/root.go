// Package cli implements the focusctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/notify"
	"github.com/terra-clan/focus-engine/internal/session"
	"github.com/terra-clan/focus-engine/internal/tui"
	"github.com/terra-clan/focus-engine/pkg/client"
)

type globalFlags struct {
	server string
	token  string
	edge   bool
	output string
}

// NewRootCmd builds the focusctl command
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "focusctl",
		Short:         "Focus session client for focus-engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", envOr("FOCUS_SERVER", "http://localhost:8080"), "focus-engine base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("FOCUS_TOKEN"), "bearer token")
	root.PersistentFlags().BoolVar(&flags.edge, "edge", false, "send awards to /functions/v1/award-xp")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(newStartCmd(flags))
	root.AddCommand(newProfileCmd(flags))
	root.AddCommand(newAwardsCmd(flags))
	root.AddCommand(newLevelsCmd(flags))
	root.AddCommand(newWatchCmd(flags))
	return root
}

func (f *globalFlags) client() *client.Client {
	var opts []client.Option
	if f.edge {
		opts = append(opts, client.WithEdgeFunctionPath())
	}
	return client.NewClient(f.server, f.token, opts...)
}

func newStartCmd(flags *globalFlags) *cobra.Command {
	var minutes int
	var mode string
	var debug, localLevels bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run a focus session in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.token == "" {
				return fmt.Errorf("a bearer token is required (--token or FOCUS_TOKEN)")
			}
			c := flags.client()

			table := levels.Default()
			if !localLevels {
				ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
				remote, err := c.GetLevels(ctx)
				cancel()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "using built-in level table: %v\n", err)
				} else {
					table = remote
				}
			}

			events := make(chan session.Event, 64)
			var model *tui.Model
			seq := notify.NewSequencer(notify.WithViewProgress(func(d models.PostSessionData) {
				model.ShowProgress(d)
			}))
			ctrl := session.NewController(c, table, seq,
				session.WithEvents(tui.EventSink(events)),
				session.WithForceComplete(debug),
			)
			defer ctrl.Close()

			model = tui.NewModel(ctrl, seq, table, events, tui.Options{
				Duration: time.Duration(minutes) * time.Minute,
				Mode:     award.ParseMode(mode),
				Debug:    debug,
			})
			return tui.Run(model)
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 25, "session length in minutes")
	cmd.Flags().StringVar(&mode, "mode", "easy", "focus mode: easy or hard")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable force complete (f)")
	cmd.Flags().BoolVar(&localLevels, "local-levels", false, "use the built-in level table instead of the server's")
	return cmd
}

func newProfileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in user's profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.client().GetProfile(cmd.Context())
			if err != nil {
				return err
			}
			if flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), p)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "xp\t%d\n", p.XP)
			fmt.Fprintf(w, "level\t%d\n", p.Level)
			fmt.Fprintf(w, "streak\t%d\n", p.Streak)
			fmt.Fprintf(w, "longest streak\t%d\n", p.LongestStreak)
			last := "never"
			if p.LastSessionTimestamp != nil {
				last = p.LastSessionTimestamp.Local().Format(time.RFC1123)
			}
			fmt.Fprintf(w, "last session\t%s\n", last)
			return w.Flush()
		},
	}
}

func newAwardsCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "awards",
		Short: "List recent session awards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			awards, err := flags.client().ListAwards(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), awards)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tMINUTES\tMODE\tXP\tLEVEL\tSTREAK")
			for _, a := range awards {
				fmt.Fprintf(w, "%s\t%s\t%s\t+%d\t%d->%d\t%d->%d\n",
					a.CreatedAt.Local().Format("2006-01-02 15:04"),
					strconv.FormatFloat(a.DurationMinutes, 'f', -1, 64),
					a.Mode, a.XPEarned, a.LevelBefore, a.LevelAfter, a.StreakBefore, a.StreakAfter,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of awards to show")
	return cmd
}

func newLevelsCmd(flags *globalFlags) *cobra.Command {
	var local bool
	var file string

	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the level table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var table *levels.Table
			var err error
			switch {
			case file != "":
				table, err = levels.Load(file)
			case local:
				table = levels.Default()
			default:
				table, err = flags.client().GetLevels(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printLevels(cmd.OutOrStdout(), table, flags.output)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "print the built-in table")
	cmd.Flags().StringVar(&file, "file", "", "validate and print a level table file")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream profile updates as sessions are awarded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			updates, err := flags.client().WatchProfile(ctx)
			if err != nil {
				return err
			}
			for p := range updates {
				if flags.output == "json" {
					if err := writeJSON(cmd.OutOrStdout(), p); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  level %d  %d xp  streak %d\n",
					time.Now().Format("15:04:05"), p.Level, p.XP, p.Streak)
			}
			return nil
		},
	}
}

func printLevels(out io.Writer, table *levels.Table, format string) error {
	if format == "json" {
		return writeJSON(out, map[string]interface{}{
			"version": table.Version(),
			"levels":  table.All(),
		})
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "LEVEL\tXP\tTITLE\n")
	for _, t := range table.All() {
		fmt.Fprintf(w, "%d\t%d\t%s\n", t.Level, t.XPRequired, t.Title)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
