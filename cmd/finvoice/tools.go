package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/finvoice/internal/app"
)

func newToolsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the agent's tools and the handler each resolves to",
		Long:  "tools loads the agent script, connects the configured MCP servers and prints how every tool name resolves. Declared tools without a handler are acknowledged with the fallback result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ts, err := app.LoadTools(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer ts.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHANDLER\tSERVER\tDECLARED")
			for _, b := range ts.Bindings() {
				server := b.Server
				if server == "" {
					server = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", b.Name, b.Kind, server, b.Declared)
			}
			return tw.Flush()
		},
	}
}
