package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/finvoice/internal/config"
	"github.com/MrWong99/finvoice/internal/tools"
	"github.com/MrWong99/finvoice/pkg/agent"
)

// Toolset is the tool side of the application: the loaded agent script, the
// handler registry and the MCP servers backing it.
type Toolset struct {
	Script   *agent.Script
	Registry *tools.Registry
	Bridge   *tools.MCPBridge
}

// Binding describes how one tool name resolves.
type Binding struct {
	Name     string
	Kind     tools.Kind
	Server   string
	Declared bool // declared to the realtime service
}

// LoadTools loads the agent script, registers the builtin handlers and
// connects every configured MCP server. A server that cannot be reached is
// logged and skipped; its tools resolve to the fallback handler.
func LoadTools(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Toolset, error) {
	if log == nil {
		log = slog.Default()
	}
	script, err := agent.LoadScript(cfg.Agent.Script)
	if err != nil {
		return nil, fmt.Errorf("app: load agent script: %w", err)
	}

	reg := tools.NewRegistry()
	if ws := cfg.Tools.WebSearch; ws.APIKey != "" {
		var opts []tools.SearchOption
		if ws.BaseURL != "" {
			opts = append(opts, tools.WithSearchBaseURL(ws.BaseURL))
		}
		if ws.MaxResults > 0 {
			opts = append(opts, tools.WithMaxResults(ws.MaxResults))
		}
		if err := reg.Register(tools.NewWebSearch(ws.APIKey, opts...).Handler()); err != nil {
			return nil, fmt.Errorf("app: register web search: %w", err)
		}
	}

	ts := &Toolset{Script: script, Registry: reg}
	if len(cfg.Tools.MCPServers) == 0 {
		return ts, nil
	}
	ts.Bridge = tools.NewMCPBridge(reg)
	for _, srv := range cfg.Tools.MCPServers {
		names, err := ts.Bridge.Connect(ctx, srv)
		if err != nil {
			log.Warn("app: mcp server unavailable", "server", srv.Name, "err", err)
			continue
		}
		log.Info("app: mcp server connected", "server", srv.Name, "tools", len(names))
	}
	return ts, nil
}

// ExtraTools returns the MCP tool schemas not already declared by the
// script, for declaration to the realtime service.
func (t *Toolset) ExtraTools() []agent.Tool {
	if t.Bridge == nil {
		return nil
	}
	declared := make(map[string]bool, len(t.Script.Tools))
	for _, tool := range t.Script.Tools {
		declared[tool.Name] = true
	}
	var out []agent.Tool
	for _, def := range t.Bridge.Definitions() {
		if !declared[def.Name] {
			out = append(out, def.Tool)
		}
	}
	return out
}

// Bindings lists every declared or registered tool with the handler it
// resolves to, script tools first.
func (t *Toolset) Bindings() []Binding {
	seen := make(map[string]bool)
	var out []Binding
	for _, name := range t.Script.ToolNames() {
		if seen[name] {
			continue
		}
		seen[name] = true
		h := t.Registry.Lookup(name)
		out = append(out, Binding{Name: name, Kind: h.Kind, Server: h.Server, Declared: true})
	}
	for _, h := range t.Registry.Handlers() {
		if seen[h.Name] {
			continue
		}
		seen[h.Name] = true
		// MCP tools are declared through ExtraTools.
		out = append(out, Binding{Name: h.Name, Kind: h.Kind, Server: h.Server, Declared: h.Kind == tools.KindMCP})
	}
	return out
}

// Close disconnects the MCP servers.
func (t *Toolset) Close() error {
	if t.Bridge == nil {
		return nil
	}
	return t.Bridge.Close()
}
