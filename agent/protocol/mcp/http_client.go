package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/tlsutil"
)

// HTTPClient is a plain request/response MCP client: every call is one
// POST carrying a single JSON-RPC message, unlike StdioTransport's
// persistent pipe or SSETransport's long-lived event stream. It
// implements MCPClient directly rather than wrapping DefaultMCPClient,
// since DefaultMCPClient is hardwired to an io.Reader/io.Writer pipe
// rather than the Transport interface.
type HTTPClient struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	nextID     int64

	serverInfo *ServerInfo
	connected  bool

	logger *zap.Logger
}

// NewHTTPClient creates an HTTP-transport MCP client targeting endpoint,
// sending headers (e.g. auth) with every request.
func NewHTTPClient(endpoint string, headers map[string]string, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint:   endpoint,
		headers:    headers,
		httpClient: tlsutil.SecureHTTPClient(0),
		logger:     logger,
	}
}

func (c *HTTPClient) Connect(ctx context.Context, serverURL string) error {
	if serverURL != "" {
		c.endpoint = serverURL
	}
	info, err := c.GetServerInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server info: %w", err)
	}
	c.serverInfo = info
	c.connected = true
	return nil
}

func (c *HTTPClient) Disconnect(context.Context) error {
	c.connected = false
	return nil
}

func (c *HTTPClient) IsConnected() bool { return c.connected }

func (c *HTTPClient) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	raw, err := c.call(ctx, "initialize", nil)
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode server info: %w", err)
	}
	return &info, nil
}

func (c *HTTPClient) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

func (c *HTTPClient) ReadResource(ctx context.Context, uri string) (*Resource, error) {
	raw, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var res Resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListPrompts(ctx context.Context) ([]PromptTemplate, error) {
	raw, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Prompts []PromptTemplate `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

func (c *HTTPClient) GetPrompt(ctx context.Context, name string, vars map[string]string) (string, error) {
	raw, err := c.call(ctx, "prompts/get", map[string]any{"name": name, "arguments": vars})
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// call POSTs a single JSON-RPC request and decodes its result field.
func (c *HTTPClient) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	msg := NewMCPRequest(id, method, params)

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp http call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp http call %s: unexpected status %d: %s", method, resp.StatusCode, string(raw))
	}

	var out MCPMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode mcp response for %s: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", out.Error.Code, out.Error.Message)
	}
	resultJSON, err := json.Marshal(out.Result)
	if err != nil {
		return nil, err
	}
	return resultJSON, nil
}
