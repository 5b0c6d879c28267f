// Package control implements the bidirectional control protocol: it
// correlates outbound control requests with their responses, dispatches
// inbound control requests to application callbacks, performs the
// initialize handshake, and gates stdin closure on the first result when
// callbacks are registered.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arach/claude-agent-go/internal/mcpbridge"
	"github.com/arach/claude-agent-go/protocol"
	"github.com/google/uuid"
)

// recordTransport is the subset of *transport.Transport the handler needs:
// a raw record stream, a serialized write, a terminal error, and close.
// Accepting it as an interface (rather than the concrete type) keeps the
// handler testable with a fake that never spawns a subprocess.
type recordTransport interface {
	Records() <-chan json.RawMessage
	WriteRecord(v any) error
	Err() error
	Close() error
}

type handlerState int32

const (
	stateCreated handlerState = iota
	stateReading
	stateInitialized
	stateClosed
)

// PermissionDecision is the application's answer to a can_use_tool request.
type PermissionDecision struct {
	Allow              bool
	UpdatedInput       map[string]any
	UpdatedPermissions any
	Message            string
	Interrupt          bool
}

// PermissionCallback decides whether a tool invocation may proceed.
type PermissionCallback func(ctx context.Context, req protocol.CanUseToolRequest) (PermissionDecision, error)

const defaultDataChannelSize = 100

// defaultTimeout returns CLAUDE_CODE_STREAM_CLOSE_TIMEOUT floored at 60s,
// or 60s if unset/invalid.
func defaultTimeout() time.Duration {
	const floor = 60 * time.Second
	v := os.Getenv("CLAUDE_CODE_STREAM_CLOSE_TIMEOUT")
	if v == "" {
		return floor
	}
	ms, err := strconv.Atoi(v)
	if err != nil || time.Duration(ms)*time.Millisecond < floor {
		return floor
	}
	return time.Duration(ms) * time.Millisecond
}

// Handler owns a Transport's raw record stream end to end.
type Handler struct {
	tr recordTransport

	pending *pendingTable
	hooks   *hookRegistry
	bridges *mcpbridge.Instances

	permission PermissionCallback

	data chan protocol.Message

	state        atomic.Int32
	firstResult  chan struct{}
	firstResultOnce sync.Once

	serverInfo atomic.Pointer[map[string]any]

	wg sync.WaitGroup
}

// New constructs a handler bound to an already-started transport. bridges
// may be nil if no in-process MCP servers are registered.
func New(tr recordTransport, permission PermissionCallback, bridges *mcpbridge.Instances) *Handler {
	if bridges == nil {
		bridges = mcpbridge.NewInstances()
	}
	h := &Handler{
		tr:          tr,
		pending:     newPendingTable(),
		hooks:       newHookRegistry(),
		bridges:     bridges,
		permission:  permission,
		data:        make(chan protocol.Message, defaultDataChannelSize),
		firstResult: make(chan struct{}),
	}
	h.state.Store(int32(stateCreated))
	return h
}

// Start begins the record loop. Call Initialize afterward to perform the
// handshake.
func (h *Handler) Start(ctx context.Context) {
	h.state.Store(int32(stateReading))
	h.wg.Add(1)
	go h.recordLoop(ctx)
}

// Data returns the channel of data-plane messages, in the order received.
func (h *Handler) Data() <-chan protocol.Message { return h.data }

// HasFiredFirstResult reports whether a Result record has ever been seen.
func (h *Handler) HasFiredFirstResult() bool {
	select {
	case <-h.firstResult:
		return true
	default:
		return false
	}
}

// Initialize sends the initialize control request carrying hook
// configuration and waits for the matching control_response. It must be
// called exactly once per session.
func (h *Handler) Initialize(ctx context.Context, hookConfig map[string][]HookMatcherConfig) error {
	wireHooks := h.hooks.allocate(hookConfig)

	converted := make(map[string][]protocol.HookMatcher, len(wireHooks))
	for event, matchers := range wireHooks {
		wm := make([]protocol.HookMatcher, len(matchers))
		for i, m := range matchers {
			wm[i] = protocol.HookMatcher{Matcher: m.Matcher, HookCallbackIDs: m.HookCallbackIDs, Timeout: m.Timeout}
		}
		converted[event] = wm
	}

	resp, err := h.sendOutbound(ctx, protocol.SubtypeInitialize, map[string]any{
		"subtype": protocol.SubtypeInitialize,
		"hooks":   converted,
	}, defaultTimeout())
	if err != nil {
		log.Printf("control: initialize handshake failed: %v", err)
		return err
	}

	h.serverInfo.Store(&resp)
	h.state.Store(int32(stateInitialized))
	log.Printf("control: initialize handshake complete")
	return nil
}

// GetServerInfo returns the cached initialize payload, or (nil, false) if
// the handshake has not completed.
func (h *Handler) GetServerInfo() (map[string]any, bool) {
	p := h.serverInfo.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Interrupt sends an outbound interrupt control request.
func (h *Handler) Interrupt(ctx context.Context) error {
	_, err := h.sendOutbound(ctx, protocol.SubtypeInterrupt, map[string]any{"subtype": protocol.SubtypeInterrupt}, defaultTimeout())
	return err
}

// SetPermissionMode sends an outbound set_permission_mode control request.
func (h *Handler) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := h.sendOutbound(ctx, protocol.SubtypeSetPermissionMode, map[string]any{
		"subtype": protocol.SubtypeSetPermissionMode,
		"mode":    mode,
	}, defaultTimeout())
	return err
}

// SetModel sends an outbound set_model control request.
func (h *Handler) SetModel(ctx context.Context, model string) error {
	_, err := h.sendOutbound(ctx, protocol.SubtypeSetModel, map[string]any{
		"subtype": protocol.SubtypeSetModel,
		"model":   model,
	}, defaultTimeout())
	return err
}

// RewindFiles sends an outbound rewind_files control request.
func (h *Handler) RewindFiles(ctx context.Context, userMessageID string) error {
	_, err := h.sendOutbound(ctx, protocol.SubtypeRewindFiles, map[string]any{
		"subtype":         protocol.SubtypeRewindFiles,
		"user_message_id": userMessageID,
	}, defaultTimeout())
	return err
}

// GetMcpStatus sends an outbound mcp_status control request.
func (h *Handler) GetMcpStatus(ctx context.Context) (map[string]any, error) {
	return h.sendOutbound(ctx, protocol.SubtypeMCPStatus, map[string]any{"subtype": protocol.SubtypeMCPStatus}, defaultTimeout())
}

// sendOutbound writes a control_request, registers it in the pending
// table before writing, and awaits the correlated response or timeout.
func (h *Handler) sendOutbound(ctx context.Context, subtype string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if handlerState(h.state.Load()) == stateClosed {
		return nil, &protocol.ConnectionError{Message: "handler is closed"}
	}

	requestID := uuid.New().String()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	entry := h.pending.register(requestID)

	req := protocol.ControlRequest{
		Type:      "control_request",
		RequestID: requestID,
		Request:   payloadJSON,
	}
	if err := h.tr.WriteRecord(req); err != nil {
		h.pending.fail(requestID, err)
		return nil, err
	}

	select {
	case <-entry.done:
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.resp, nil
	case <-ctx.Done():
		h.pending.evict(requestID)
		return nil, ctx.Err()
	case <-time.After(timeout):
		h.pending.evict(requestID)
		log.Printf("control: outbound %q request %s timed out after %s", subtype, requestID, timeout)
		return nil, &controlTimeoutError{Subtype: subtype, RequestID: requestID}
	}
}

type controlTimeoutError struct {
	Subtype   string
	RequestID string
}

func (e *controlTimeoutError) Error() string {
	return fmt.Sprintf("control request %q (%s) timed out", e.Subtype, e.RequestID)
}

// recordLoop owns the transport's raw record stream and is the sole
// writer to the data channel and the sole reader of pending-response
// correlation.
func (h *Handler) recordLoop(ctx context.Context) {
	defer h.wg.Done()
	defer close(h.data)

	for raw := range h.tr.Records() {
		isControl, kind := protocol.IsControlRecord(raw)
		if !isControl {
			msg, err := protocol.ParseMessage(raw)
			if err != nil {
				continue // malformed data-plane record; skip, do not fail the stream
			}
			if _, ok := msg.(protocol.ResultMessage); ok {
				h.firstResultOnce.Do(func() { close(h.firstResult) })
			}
			h.data <- msg
			continue
		}

		switch kind {
		case "control_response":
			h.handleControlResponse(raw)
		case "control_request":
			h.wg.Add(1)
			go func(raw []byte) {
				defer h.wg.Done()
				h.handleInboundControlRequest(ctx, raw)
			}(append([]byte(nil), raw...))
		case "control_cancel_request":
			// accepted and discarded; see design notes.
		}
	}

	if err := h.tr.Err(); err != nil {
		log.Printf("control: record stream ended with error: %v", err)
		h.pending.failAll(err)
	} else {
		h.pending.failAll(&protocol.ConnectionError{Message: "record stream closed"})
	}
}

func (h *Handler) handleControlResponse(raw []byte) {
	var resp protocol.ControlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	if resp.Response.Subtype == "error" {
		h.pending.fail(resp.Response.RequestID, &protocol.SdkError{Message: resp.Response.Error})
		return
	}
	h.pending.complete(resp.Response.RequestID, resp.Response.Response)
}

func (h *Handler) handleInboundControlRequest(ctx context.Context, raw []byte) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	subtype, err := protocol.ControlRequestSubtype(req)
	if err != nil {
		h.respondError(req.RequestID, "malformed control request")
		return
	}

	switch subtype {
	case protocol.SubtypeCanUseTool:
		h.handleCanUseTool(ctx, req)
	case protocol.SubtypeHookCallback:
		h.handleHookCallback(ctx, req)
	case protocol.SubtypeMCPMessage:
		h.handleMCPMessage(ctx, req)
	default:
		h.respondError(req.RequestID, "unsupported control request subtype: "+subtype)
	}
}

func (h *Handler) handleCanUseTool(ctx context.Context, req protocol.ControlRequest) {
	if h.permission == nil {
		h.respondError(req.RequestID, "no permission callback registered")
		return
	}
	var toolReq protocol.CanUseToolRequest
	if err := json.Unmarshal(req.Request, &toolReq); err != nil {
		h.respondError(req.RequestID, "failed to parse can_use_tool request")
		return
	}

	decision, err := h.permission(ctx, toolReq)
	if err != nil {
		h.respondError(req.RequestID, err.Error())
		return
	}

	wire := map[string]any{}
	if decision.Allow {
		wire["behavior"] = "allow"
		if decision.UpdatedInput != nil {
			wire["updatedInput"] = decision.UpdatedInput
		}
		if decision.UpdatedPermissions != nil {
			wire["updatedPermissions"] = decision.UpdatedPermissions
		}
	} else {
		wire["behavior"] = "deny"
		wire["message"] = decision.Message
		if decision.Interrupt {
			wire["interrupt"] = true
		}
	}
	h.respondSuccess(req.RequestID, wire)
}

func (h *Handler) handleHookCallback(ctx context.Context, req protocol.ControlRequest) {
	var payload protocol.HookCallbackRequest
	if err := json.Unmarshal(req.Request, &payload); err != nil {
		h.respondError(req.RequestID, "failed to parse hook_callback request")
		return
	}
	cb, ok := h.hooks.get(payload.CallbackID)
	if !ok {
		h.respondError(req.RequestID, "unknown hook callback_id: "+payload.CallbackID)
		return
	}

	out, err := cb(ctx, payload.Input, payload.ToolUseID)
	if err != nil {
		h.respondError(req.RequestID, err.Error())
		return
	}

	outJSON, err := json.Marshal(out)
	if err != nil {
		h.respondError(req.RequestID, err.Error())
		return
	}
	var wire map[string]any
	_ = json.Unmarshal(outJSON, &wire)
	h.respondSuccess(req.RequestID, wire)
}

func (h *Handler) handleMCPMessage(ctx context.Context, req protocol.ControlRequest) {
	var payload protocol.MCPMessageRequest
	if err := json.Unmarshal(req.Request, &payload); err != nil {
		h.respondError(req.RequestID, "failed to parse mcp_message request")
		return
	}

	bridge, ok := h.bridges.Get(payload.ServerName)
	if !ok {
		h.respondSuccess(req.RequestID, map[string]any{
			"mcp_response": notFoundResponse(payload.Message, payload.ServerName),
		})
		return
	}

	mcpResp := bridge.Handle(ctx, payload.Message)
	var decoded any
	if len(mcpResp) > 0 {
		_ = json.Unmarshal(mcpResp, &decoded)
	}
	h.respondSuccess(req.RequestID, map[string]any{"mcp_response": decoded})
}

func notFoundResponse(raw json.RawMessage, serverName string) map[string]any {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	jsonrpc := probe.JSONRPC
	if jsonrpc == "" {
		jsonrpc = "2.0"
	}
	var id any
	if len(probe.ID) > 0 {
		_ = json.Unmarshal(probe.ID, &id)
	}
	return map[string]any{
		"jsonrpc": jsonrpc,
		"id":      id,
		"error": map[string]any{
			"code":    -32601,
			"message": fmt.Sprintf("SDK MCP server '%s' not found", serverName),
		},
	}
}

func (h *Handler) respondSuccess(requestID string, payload map[string]any) {
	_ = h.tr.WriteRecord(protocol.SuccessResponse(requestID, payload))
}

func (h *Handler) respondError(requestID, message string) {
	_ = h.tr.WriteRecord(protocol.ErrorResponse(requestID, message))
}

// AwaitFirstResult blocks until a Result record has been observed or
// timeout elapses. Used for stdin-close gating when callbacks are
// registered.
func (h *Handler) AwaitFirstResult(ctx context.Context, timeout time.Duration) error {
	select {
	case <-h.firstResult:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return &controlTimeoutError{Subtype: "first-result-gate"}
	}
}

// HasCallbacks reports whether any hook, permission, or MCP bridge
// callback is registered — used to decide stdin-close gating.
func (h *Handler) HasCallbacks() bool {
	return h.permission != nil || len(h.bridges.Names()) > 0 || h.hooks.hasAny()
}

// Close tears the handler down: closes the transport and fails every
// pending request with a connection-lost error.
func (h *Handler) Close() error {
	prev := handlerState(h.state.Swap(int32(stateClosed)))
	if prev == stateClosed {
		return nil
	}
	err := h.tr.Close()
	h.pending.failAll(&protocol.ConnectionError{Message: "handler closed"})
	h.wg.Wait()
	return err
}
