package mcpbridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func decodeResponse(t *testing.T, raw json.RawMessage) rpcResponse {
	t.Helper()
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp
}

func TestBridgeInitialize(t *testing.T) {
	b := New("demo", "1.0.0", Handlers{
		ListTools: func(ctx context.Context) ([]ToolDefinition, error) { return nil, nil },
	})
	req := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"}
	raw, _ := json.Marshal(req)
	resp := decodeResponse(t, b.Handle(context.Background(), raw))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map[string]any", resp.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
	caps, _ := result["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Fatalf("expected tools capability to be advertised, got %+v", caps)
	}
	if _, ok := caps["prompts"]; ok {
		t.Fatalf("did not expect prompts capability without a handler, got %+v", caps)
	}
}

func TestBridgeToolsListEmptyWithoutHandler(t *testing.T) {
	b := New("demo", "1.0.0", Handlers{})
	req := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"}
	raw, _ := json.Marshal(req)
	resp := decodeResponse(t, b.Handle(context.Background(), raw))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	tools, ok := result["tools"].([]any)
	if !ok || len(tools) != 0 {
		t.Fatalf("expected empty tools list, got %+v", result["tools"])
	}
}

func TestBridgeToolsCallWithoutHandlerIsUnsupported(t *testing.T) {
	b := New("demo", "1.0.0", Handlers{})
	req := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "tools/call"}
	raw, _ := json.Marshal(req)
	resp := decodeResponse(t, b.Handle(context.Background(), raw))
	if resp.Error == nil || resp.Error.Code != errCodeInternal {
		t.Fatalf("expected -32603 error, got %+v", resp.Error)
	}
}

func TestBridgeToolsCallDispatchesArguments(t *testing.T) {
	var gotName string
	var gotArgs json.RawMessage
	b := New("demo", "1.0.0", Handlers{
		CallTool: func(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
			gotName = name
			gotArgs = args
			return TextResult("ok", false), nil
		},
	})
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`4`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"Bash","arguments":{"command":"ls"}}`),
	}
	raw, _ := json.Marshal(req)
	resp := decodeResponse(t, b.Handle(context.Background(), raw))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if gotName != "Bash" {
		t.Fatalf("gotName = %q, want Bash", gotName)
	}
	if string(gotArgs) != `{"command":"ls"}` {
		t.Fatalf("gotArgs = %s", gotArgs)
	}
}
