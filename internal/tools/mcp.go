package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/finvoice/pkg/agent"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// MCPServer describes an MCP server whose tools back agent functions.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport Transport         `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
}

// MCPBridge connects to MCP servers and registers every tool they serve as a
// [KindMCP] handler.
//
// The zero value is not usable; create bridges with [NewMCPBridge].
type MCPBridge struct {
	registry *Registry
	client   *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	defs     map[string]MCPTool
}

// MCPTool is the schema of a tool discovered on an MCP server.
type MCPTool struct {
	Server string
	agent.Tool
}

// NewMCPBridge returns a bridge registering into reg.
func NewMCPBridge(reg *Registry) *MCPBridge {
	return &MCPBridge{
		registry: reg,
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "finvoice", Version: "1.0.0"}, nil),
		sessions: make(map[string]*mcpsdk.ClientSession),
		defs:     make(map[string]MCPTool),
	}
}

// Connect dials the server described by cfg and registers its tools. It
// returns the registered tool names.
func (b *MCPBridge) Connect(ctx context.Context, cfg MCPServer) ([]string, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tools: mcp server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("tools: unknown transport %q for mcp server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("tools: stdio mcp server %q requires a command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("tools: streamable-http mcp server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}
	return b.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport registers the tools of an MCP server reached over an
// already constructed transport. Reconnecting a server name replaces its
// previous session and tools.
func (b *MCPBridge) ConnectTransport(ctx context.Context, server string, transport mcpsdk.Transport) ([]string, error) {
	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("tools: connect mcp server %q: %w", server, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("tools: list tools of mcp server %q: %w", server, err)
		}
		discovered = append(discovered, tool)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.sessions[server]; ok {
		_ = old.Close()
		b.registry.Unregister(server)
		for name, def := range b.defs {
			if def.Server == server {
				delete(b.defs, name)
			}
		}
	}
	b.sessions[server] = session

	names := make([]string, 0, len(discovered))
	for _, t := range discovered {
		h := Handler{Name: t.Name, Kind: KindMCP, Server: server, Fn: callFunc(session, t.Name)}
		if err := b.registry.Register(h); err != nil {
			return names, err
		}
		b.defs[t.Name] = MCPTool{Server: server, Tool: agent.Tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		}}
		names = append(names, t.Name)
	}
	return names, nil
}

// Definitions returns the schemas of every discovered MCP tool.
func (b *MCPBridge) Definitions() []MCPTool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MCPTool, 0, len(b.defs))
	for _, d := range b.defs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b MCPTool) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Close ends every MCP session and unregisters their tools.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, s := range b.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tools: close mcp server %q: %w", name, err))
		}
		b.registry.Unregister(name)
		delete(b.sessions, name)
	}
	clear(b.defs)
	return errors.Join(errs...)
}

// callFunc adapts an MCP tool to [Func]. Text content is concatenated; a
// JSON text result is returned decoded so it is not double-encoded in the
// call output.
func callFunc(session *mcpsdk.ClientSession, name string) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return nil, fmt.Errorf("call mcp tool: %w", err)
		}
		var sb strings.Builder
		for _, c := range res.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		text := sb.String()
		if res.IsError {
			return nil, errors.New(text)
		}
		var decoded any
		if json.Unmarshal([]byte(text), &decoded) == nil {
			return decoded, nil
		}
		return text, nil
	}
}

// schemaToMap converts an SDK schema value to a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}
