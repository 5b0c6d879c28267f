// Package mcpbridge implements a local JSON-RPC 2.0 server that answers
// tool/prompt/resource requests on behalf of application-supplied handlers,
// and validates stdio MCP server configurations that the CLI spawns itself.
package mcpbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const protocolVersion = "2024-11-05"

// ToolDefinition describes one tool this bridge advertises. InputSchema is
// an opaque JSON-Schema document; the bridge never interprets it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptDefinition describes one prompt this bridge advertises.
type PromptDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResourceDefinition describes one resource this bridge advertises.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Handlers are the application-supplied callbacks backing each JSON-RPC
// method. A nil handler means "not supported": list methods return empty
// results, others return a JSON-RPC -32603 error.
type Handlers struct {
	ListTools     func(ctx context.Context) ([]ToolDefinition, error)
	CallTool      func(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
	ListPrompts   func(ctx context.Context) ([]PromptDefinition, error)
	GetPrompt     func(ctx context.Context, name string, args map[string]string) (json.RawMessage, error)
	ListResources func(ctx context.Context) ([]ResourceDefinition, error)
	ReadResource  func(ctx context.Context, uri string) (json.RawMessage, error)
}

// Bridge is one named in-process MCP-like server. Its contract with its
// client is strictly request/response: one method in flight at a time,
// though handlers may themselves run concurrently with other bridges.
type Bridge struct {
	name     string
	version  string
	handlers Handlers

	mu sync.Mutex
}

// New constructs a bridge identified by name/version in its initialize
// response's serverInfo.
func New(name, version string, handlers Handlers) *Bridge {
	return &Bridge{name: name, version: version, handlers: handlers}
}

// rpcRequest and rpcResponse mirror JSON-RPC 2.0's wire shape.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const errCodeInternal = -32603

// Handle decodes and answers a single JSON-RPC request, serialized on the
// bridge's own mutex.
func (b *Bridge) Handle(ctx context.Context, raw json.RawMessage) json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return mustMarshal(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: errCodeInternal, Message: err.Error()}})
	}

	if len(req.Method) > len("notifications/") && req.Method[:len("notifications/")] == "notifications/" {
		return nil // acknowledged silently, no response expected
	}

	result, err := b.dispatch(ctx, req)
	if err != nil {
		return mustMarshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: errCodeInternal, Message: err.Error()}})
	}
	return mustMarshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (b *Bridge) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return b.initializeResult(), nil
	case "tools/list":
		return b.toolsList(ctx)
	case "tools/call":
		return b.toolsCall(ctx, req.Params)
	case "prompts/list":
		return b.promptsList(ctx)
	case "prompts/get":
		return b.promptsGet(ctx, req.Params)
	case "resources/list":
		return b.resourcesList(ctx)
	case "resources/read":
		return b.resourcesRead(ctx, req.Params)
	default:
		return nil, unsupportedMethod(req.Method)
	}
}

type unsupportedMethodError string

func (e unsupportedMethodError) Error() string { return "method not supported: " + string(e) }

func unsupportedMethod(method string) error { return unsupportedMethodError(method) }

func (b *Bridge) initializeResult() map[string]any {
	capabilities := map[string]any{}
	if b.handlers.ListTools != nil {
		capabilities["tools"] = map[string]any{}
	}
	if b.handlers.ListPrompts != nil {
		capabilities["prompts"] = map[string]any{}
	}
	if b.handlers.ListResources != nil {
		capabilities["resources"] = map[string]any{}
	}
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    capabilities,
		"serverInfo": mcp.Implementation{
			Name:    b.name,
			Version: b.version,
		},
	}
}

func (b *Bridge) toolsList(ctx context.Context) (any, error) {
	if b.handlers.ListTools == nil {
		return map[string]any{"tools": []ToolDefinition{}}, nil
	}
	tools, err := b.handlers.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []ToolDefinition{}
	}
	return map[string]any{"tools": tools}, nil
}

func (b *Bridge) toolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	if b.handlers.CallTool == nil {
		return nil, unsupportedMethod("tools/call")
	}
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return b.handlers.CallTool(ctx, p.Name, p.Arguments)
}

func (b *Bridge) promptsList(ctx context.Context) (any, error) {
	if b.handlers.ListPrompts == nil {
		return map[string]any{"prompts": []PromptDefinition{}}, nil
	}
	prompts, err := b.handlers.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	if prompts == nil {
		prompts = []PromptDefinition{}
	}
	return map[string]any{"prompts": prompts}, nil
}

func (b *Bridge) promptsGet(ctx context.Context, params json.RawMessage) (any, error) {
	if b.handlers.GetPrompt == nil {
		return nil, unsupportedMethod("prompts/get")
	}
	var p struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return b.handlers.GetPrompt(ctx, p.Name, p.Arguments)
}

func (b *Bridge) resourcesList(ctx context.Context) (any, error) {
	if b.handlers.ListResources == nil {
		return map[string]any{"resources": []ResourceDefinition{}}, nil
	}
	resources, err := b.handlers.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	if resources == nil {
		resources = []ResourceDefinition{}
	}
	return map[string]any{"resources": resources}, nil
}

func (b *Bridge) resourcesRead(ctx context.Context, params json.RawMessage) (any, error) {
	if b.handlers.ReadResource == nil {
		return nil, unsupportedMethod("resources/read")
	}
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return b.handlers.ReadResource(ctx, p.URI)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal marshal error"}}`)
	}
	return data
}

// TextResult is a convenience constructor for a single-text CallToolResult.
func TextResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
