package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
	"github.com/iammorganparry/clive/apps/casegen/internal/stages"
)

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clear sessions",
	}
	cmd.AddCommand(
		newSessionsListCommand(opts),
		newSessionsShowCommand(opts),
		newSessionsClearCommand(opts),
	)
	return cmd
}

func newSessionsListCommand(opts *rootOptions) *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = opts.cfg.LocalUserID
			}
			return opts.withApp(cmd.Context(), func(app *App) error {
				list, err := app.Sessions.ListByUser(cmd.Context(), user, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tMESSAGES\tVERSION\tUPDATED")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.ID, s.MessageCount, s.Version,
						time.Unix(s.UpdatedAt, 0).Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (default CASEGEN_USER_ID)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newSessionsShowCommand(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's current test cases, or the whole session with --json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				sess, err := app.Sessions.Load(cmd.Context(), args[0])
				if errors.Is(err, sessions.ErrNotFound) {
					return routing.ErrSessionNotFound
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					writeIndented(out, sess)
					return nil
				}

				var suite models.TestSuite
				ok, err := sess.State.Get(models.StateCurrentTestCases, &suite)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "session %s (user %s, %d messages, version %d)\n\n",
					sess.ID, sess.UserID, len(sess.History), sess.Version)
				if !ok {
					fmt.Fprintln(out, "no current test cases")
					return nil
				}
				fmt.Fprintln(out, stages.RenderTable(&suite))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the full session as JSON")
	return cmd
}

func newSessionsClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Clear a session's state, keeping its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				keys, err := app.Router.ClearSessionState(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d keys from %s\n", len(keys), args[0])
				return nil
			})
		},
	}
}
