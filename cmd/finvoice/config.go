package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/finvoice/internal/config"
	"github.com/MrWong99/finvoice/pkg/agent"
)

const redacted = "<redacted>"

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and the agent script it names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				script, err := agent.LoadScript(cfg.Agent.Script)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (agent %q, %d tools, transport %s)\n",
					*configPath, script.Name, len(script.Tools), cfg.Realtime.Transport)
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(redact(cfg)); err != nil {
					return err
				}
				return enc.Close()
			},
		},
	)
	return cmd
}

// redact returns a copy of cfg without credentials.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Tools.WebSearch.APIKey != "" {
		out.Tools.WebSearch.APIKey = redacted
	}
	if out.Transcript.PostgresDSN != "" {
		out.Transcript.PostgresDSN = redacted
	}
	if out.Profile.Cache.RedisURL != "" {
		out.Profile.Cache.RedisURL = redacted
	}
	if len(out.Tools.MCPServers) > 0 {
		out.Tools.MCPServers = append(out.Tools.MCPServers[:0:0], out.Tools.MCPServers...)
		for i := range out.Tools.MCPServers {
			srv := &out.Tools.MCPServers[i]
			if len(srv.Env) == 0 {
				continue
			}
			env := make(map[string]string, len(srv.Env))
			for k := range srv.Env {
				env[k] = redacted
			}
			srv.Env = env
		}
	}
	return &out
}
