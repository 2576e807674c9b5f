// Package cli implements the casegen command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/config"
)

type rootOptions struct {
	logLevel string
	cfg      *config.Config
	logger   *slog.Logger
}

// NewRootCommand builds the casegen command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "casegen",
		Short: "Generate and refine test cases from feature requests",
		Long: `casegen turns feature descriptions into reviewed test case tables.
Requests run through an analyst, generator, reviewer and refiner pipeline
grounded in your requirements and compliance documents, and follow-up
requests enhance the suite kept in the session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			opts.cfg = cfg
			opts.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(
		newServeCommand(opts),
		newMCPCommand(opts),
		newDispatchCommand(opts),
		newIngestCommand(opts),
		newSessionsCommand(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// withApp builds the service graph for the duration of fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(*App) error) error {
	app, err := NewApp(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
