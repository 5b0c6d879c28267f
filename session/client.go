package session

import (
	"context"
	"time"

	"github.com/arach/claude-agent-go/internal/control"
	"github.com/arach/claude-agent-go/internal/mcpbridge"
	"github.com/arach/claude-agent-go/internal/queue"
	"github.com/arach/claude-agent-go/internal/transport"
	"github.com/arach/claude-agent-go/protocol"
)

// Client is a thin façade owning a Transport and a Handler for one
// interactive session. Callers observe messages via Client but never own
// the underlying channel.
type Client struct {
	tr      *transport.Transport
	handler *control.Handler
	prompts *queue.PromptQueue

	sessionID string
	opts      Options
}

// Connect starts the session. The transport always runs in streaming mode:
// prompt, if non-empty, is queued as the first user record, and an empty
// prompt starts pure interactive mode; either way further prompts are fed
// via Query, and stdin stays open until EndQueries or Disconnect. Connect
// has no one-shot mode; OneShot is the separate entry point for that.
//
// It rejects configuring both a permission callback and a non-empty
// one-shot prompt, and both a permission callback and
// PermissionPromptToolName — these modes are mutually exclusive.
func Connect(ctx context.Context, opts Options, prompt string) (*Client, error) {
	if opts.Permission != nil && prompt != "" {
		return nil, &protocol.SdkError{Message: "permission callback cannot be combined with a one-shot prompt"}
	}
	if opts.Permission != nil && opts.PermissionPromptToolName != "" {
		return nil, &protocol.SdkError{Message: "permission callback cannot be combined with permission_prompt_tool_name"}
	}

	streaming := true
	tOpts, err := opts.transportOptions(prompt, streaming)
	if err != nil {
		return nil, err
	}
	tr, err := transport.Start(ctx, tOpts)
	if err != nil {
		return nil, err
	}

	bridges := mcpbridge.NewInstances()
	for name, b := range opts.Bridges {
		bridges.Register(name, b)
	}

	handler := control.New(tr, opts.Permission, bridges)
	handler.Start(ctx)

	if err := handler.Initialize(ctx, opts.Hooks); err != nil {
		_ = handler.Close()
		return nil, err
	}

	c := &Client{
		tr:        tr,
		handler:   handler,
		prompts:   queue.New(16),
		opts:      opts,
		sessionID: opts.SessionID,
	}

	go c.writeLoop(ctx)

	if prompt != "" {
		_ = c.prompts.Send(ctx, prompt)
	}

	return c, nil
}

// writeLoop drains the prompt queue onto the wire, one user record per
// prompt, then applies stdin-close gating per §4.4.
func (c *Client) writeLoop(ctx context.Context) {
	for p := range c.prompts.Receive() {
		_ = c.tr.WriteRecord(userRecord(p, c.sessionID))
	}

	if c.handler.HasCallbacks() {
		gateCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		_ = c.handler.AwaitFirstResult(gateCtx, 60*time.Second)
		cancel()
	}
	_ = c.tr.EndInput()
}

func userRecord(text, sessionID string) map[string]any {
	rec := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
		"parent_tool_use_id": nil,
	}
	if sessionID != "" {
		rec["session_id"] = sessionID
	}
	return rec
}

// Query enqueues a user prompt for the writer goroutine.
func (c *Client) Query(ctx context.Context, text string) error {
	return c.prompts.Send(ctx, text)
}

// EndQueries signals no further prompts will be sent, allowing the writer
// to close stdin once gating conditions are satisfied.
func (c *Client) EndQueries() {
	c.prompts.Close()
}

// ReceiveMessages drains the data channel until it closes.
func (c *Client) ReceiveMessages() <-chan protocol.Message {
	return c.handler.Data()
}

// ReceiveResponse drains messages up to and including the first Result
// record, then stops.
func (c *Client) ReceiveResponse(ctx context.Context) ([]protocol.Message, error) {
	var out []protocol.Message
	for {
		select {
		case msg, ok := <-c.handler.Data():
			if !ok {
				return out, nil
			}
			out = append(out, msg)
			if _, isResult := msg.(protocol.ResultMessage); isResult {
				return out, nil
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Interrupt stops the current generation.
func (c *Client) Interrupt(ctx context.Context) error { return c.handler.Interrupt(ctx) }

// SetPermissionMode changes the permission policy live.
func (c *Client) SetPermissionMode(ctx context.Context, mode string) error {
	return c.handler.SetPermissionMode(ctx, mode)
}

// SetModel hot-swaps the active model.
func (c *Client) SetModel(ctx context.Context, model string) error {
	return c.handler.SetModel(ctx, model)
}

// RewindFiles restores tracked files to an earlier snapshot.
func (c *Client) RewindFiles(ctx context.Context, userMessageID string) error {
	return c.handler.RewindFiles(ctx, userMessageID)
}

// GetMcpStatus queries connected MCP server health.
func (c *Client) GetMcpStatus(ctx context.Context) (map[string]any, error) {
	return c.handler.GetMcpStatus(ctx)
}

// GetServerInfo returns the cached initialize payload (tools, commands,
// agents, plugins advertised by the CLI), if the handshake has completed.
func (c *Client) GetServerInfo() (map[string]any, bool) { return c.handler.GetServerInfo() }

// Disconnect closes the handler, which closes the transport.
func (c *Client) Disconnect() error {
	c.prompts.Close()
	return c.handler.Close()
}
