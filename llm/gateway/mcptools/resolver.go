// Package mcptools resolves a request's declared MCP servers into a flat
// list of LLM-callable tools, filtered per server, and dispatches tool
// calls back to the owning server (spec §4.2).
package mcptools

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/agent/protocol/mcp"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// ClientFactory builds a connected mcp.MCPClient for a server
// definition. Transport selection (http/sse/ws/stdio) lives behind this
// seam so the resolver itself stays transport-agnostic.
type ClientFactory interface {
	Connect(ctx context.Context, def gateway.McpDefinition) (mcp.MCPClient, error)
}

// Resolver flattens a request's extra.mcp_servers into llm.ToolSchema
// values and remembers which server/client owns each tool name, so a
// later tool_call can be routed back without re-resolving.
type Resolver struct {
	Factory ClientFactory
	Logger  *zap.Logger

	mu      sync.Mutex
	owners  map[string]mcp.MCPClient // tool name -> owning client
	clients map[string]mcp.MCPClient // server name -> client, for reuse/close
}

func NewResolver(factory ClientFactory, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Factory: factory,
		Logger:  logger,
		owners:  map[string]mcp.MCPClient{},
		clients: map[string]mcp.MCPClient{},
	}
}

// ResolveTools connects to every server named in servers, lists its
// tools, applies the per-server filter, and returns the union as
// llm.ToolSchema values ready to merge onto the outgoing provider
// request. A transport or list_tools failure on any server aborts the
// whole request (spec §4.2, §7: MCP transport/handshake/list-tools
// failures are not retried and are not partial-degraded around).
func (r *Resolver) ResolveTools(ctx context.Context, servers []gateway.ServerTools) ([]llm.ToolSchema, error) {
	var out []llm.ToolSchema

	for _, s := range servers {
		client, err := r.connect(ctx, s)
		if err != nil {
			return nil, gateway.NewError(gateway.KindMCP, fmt.Sprintf("mcp server %q: connect failed", s.Name), err)
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			return nil, gateway.NewError(gateway.KindMCP, fmt.Sprintf("mcp server %q: list_tools failed", s.Name), err)
		}

		for _, t := range tools {
			desc, ok := matchingFilterDescriptor(t, s.Filter)
			if !ok {
				continue
			}
			if desc != nil && desc.Description != nil && *desc.Description != "" {
				t.Description = *desc.Description
			}
			r.mu.Lock()
			r.owners[t.Name] = client
			r.mu.Unlock()
			out = append(out, t.ToLLMToolSchema())
		}
	}

	return out, nil
}

func (r *Resolver) connect(ctx context.Context, s gateway.ServerTools) (mcp.MCPClient, error) {
	r.mu.Lock()
	if c, ok := r.clients[s.Name]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	client, err := r.Factory.Connect(ctx, s.Server)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[s.Name] = client
	r.mu.Unlock()
	return client, nil
}

// matchingFilterDescriptor applies a ToolsFilter: ToolFilterAll keeps
// everything with no override; ToolFilterSelected keeps only names
// matched literally or as a regex against one of the filter's
// descriptors, returning that descriptor so its optional Description
// override (spec §4.2: "if a descriptor carries an override description
// it replaces the server's") can be applied by the caller.
func matchingFilterDescriptor(t mcp.ToolDefinition, filter gateway.ToolsFilter) (*gateway.ToolDescriptor, bool) {
	if filter.Mode != gateway.ToolFilterSelected {
		return nil, true
	}
	for i := range filter.Selected {
		d := &filter.Selected[i]
		if d.Name == t.Name {
			return d, true
		}
		if re, err := regexp.Compile(d.Name); err == nil && re.MatchString(t.Name) {
			return d, true
		}
	}
	return nil, false
}

// Execute dispatches a tool call to whichever server last surfaced that
// tool name via ResolveTools.
func (r *Resolver) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	r.mu.Lock()
	client, ok := r.owners[toolName]
	r.mu.Unlock()
	if !ok {
		return nil, gateway.NewError(gateway.KindMCP, fmt.Sprintf("tool %q not resolved from any MCP server", toolName), nil)
	}
	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, gateway.NewError(gateway.KindMCP, fmt.Sprintf("tool %q call failed", toolName), err)
	}
	return result, nil
}

// Close disconnects every client this resolver opened.
func (r *Resolver) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.clients {
		if err := c.Disconnect(ctx); err != nil {
			r.Logger.Warn("mcptools: disconnect failed", zap.String("server", name), zap.Error(err))
		}
	}
}
