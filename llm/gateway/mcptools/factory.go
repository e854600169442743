package mcptools

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/agent/protocol/mcp"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// DefaultClientFactory connects a gateway.McpDefinition using the
// transport it names (spec §4.2): http gets a one-shot JSON-RPC POST
// client, stdio spawns the configured command and pipes its
// stdin/stdout, sse/ws defer to the teacher's existing transports.
type DefaultClientFactory struct {
	Logger *zap.Logger
}

func NewDefaultClientFactory(logger *zap.Logger) *DefaultClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultClientFactory{Logger: logger}
}

func (f *DefaultClientFactory) Connect(ctx context.Context, def gateway.McpDefinition) (mcp.MCPClient, error) {
	switch def.Transport {
	case gateway.TransportHTTP:
		client := mcp.NewHTTPClient(def.URL, def.Headers, f.Logger)
		if err := client.Connect(ctx, def.URL); err != nil {
			return nil, err
		}
		return client, nil

	case gateway.TransportStdio:
		cmd := exec.CommandContext(ctx, def.Command, def.Args...)
		cmd.Env = envSlice(def.Env)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		client := mcp.NewMCPClient(stdout, stdin, f.Logger)
		if err := client.Connect(ctx, def.Command); err != nil {
			return nil, err
		}
		return client, nil

	case gateway.TransportSSE, gateway.TransportWS:
		return nil, fmt.Errorf("mcptools: transport %q requires a connection the factory does not yet own (see DESIGN.md)", def.Transport)

	default:
		return nil, fmt.Errorf("mcptools: unknown transport %q", def.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
