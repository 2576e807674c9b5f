package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/stages"
)

type dispatchOptions struct {
	user       string
	session    string
	flow       string
	artifact   string
	newSession bool
	asJSON     bool
}

func newDispatchCommand(opts *rootOptions) *cobra.Command {
	o := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch [message...]",
		Short: "Run one request through the pipeline without the HTTP server",
		Example: `  casegen dispatch "Users can reset their password by email"
  casegen dispatch --session 3f2a... "add a case for expired reset links"
  casegen dispatch --flow enhancement --artifact cases.md "cover locked accounts"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := routing.Request{
				UserID:     o.user,
				SessionID:  o.session,
				Message:    strings.Join(args, " "),
				FlowHint:   models.FlowName(o.flow),
				NewSession: o.newSession,
			}
			if req.UserID == "" {
				req.UserID = opts.cfg.LocalUserID
			}
			if o.artifact != "" {
				data, err := os.ReadFile(o.artifact)
				if err != nil {
					return fmt.Errorf("read artifact: %w", err)
				}
				suite, ok := stages.ParseTable(string(data))
				if !ok {
					return errors.New("artifact file contains no test case table")
				}
				req.Artifact = suite
			}

			return opts.withApp(cmd.Context(), func(app *App) error {
				resp, err := app.Router.Dispatch(cmd.Context(), req)
				out := cmd.OutOrStdout()
				if err != nil {
					desc := routing.Describe(err)
					if o.asJSON {
						writeIndented(out, models.DispatchResponse{SessionID: req.SessionID, Error: desc, ReceivedAt: time.Now().Unix()})
					} else if desc.Feedback != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "last reviewer feedback:\n%s\n", desc.Feedback)
					}
					return fmt.Errorf("%s: %w", desc.Kind, err)
				}

				if o.asJSON {
					attempts := make(map[string]int, len(resp.Attempts))
					for role, n := range resp.Attempts {
						attempts[string(role)] = n
					}
					writeIndented(out, models.DispatchResponse{
						SessionID:  resp.SessionID,
						Flow:       resp.Flow,
						Artifact:   resp.Artifact,
						Markdown:   resp.Markdown,
						Attempts:   attempts,
						ReceivedAt: time.Now().Unix(),
					})
					return nil
				}
				fmt.Fprintln(out, resp.Markdown)
				fmt.Fprintf(out, "\nsession: %s (%s)\n", resp.SessionID, resp.Flow)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&o.user, "user", "", "user ID (default CASEGEN_USER_ID)")
	cmd.Flags().StringVar(&o.session, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&o.flow, "flow", "", "force a flow: generation or enhancement")
	cmd.Flags().StringVar(&o.artifact, "artifact", "", "markdown file with test cases to enhance")
	cmd.Flags().BoolVar(&o.newSession, "new-session", false, "start a new session even if --session is set")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func writeIndented(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
