package cli

import (
	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/mcp"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP stdio adapter against a casegen server",
		Long: `Speaks MCP over stdin/stdout and forwards tool calls to the HTTP API at
CASEGEN_SERVER_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := mcp.NewServer(opts.cfg.ServerURL, opts.cfg.APIKey, opts.cfg.LocalUserID)
			return server.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
