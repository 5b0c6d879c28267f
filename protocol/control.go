package protocol

import "encoding/json"

// ControlRequest is the envelope for both directions of the control
// protocol: the CLI sends can_use_tool/hook_callback/mcp_message, and the
// application sends initialize/interrupt/set_permission_mode/set_model/
// rewind_files/mcp_status.
type ControlRequest struct {
	Type      string          `json:"type"` // always "control_request"
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

// ControlRequestSubtype peeks at the nested request's subtype without
// fully decoding the payload.
func ControlRequestSubtype(req ControlRequest) (string, error) {
	var probe struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(req.Request, &probe); err != nil {
		return "", err
	}
	return probe.Subtype, nil
}

// ControlResponse is the correlated reply to a ControlRequest.
type ControlResponse struct {
	Type     string                 `json:"type"` // always "control_response"
	Response ControlResponsePayload `json:"response"`
}

type ControlResponsePayload struct {
	Subtype   string         `json:"subtype"` // "success" | "error"
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SuccessResponse builds a control_response carrying a success payload.
func SuccessResponse(requestID string, payload map[string]any) ControlResponse {
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  payload,
		},
	}
}

// ErrorResponse builds a control_response carrying an error.
func ErrorResponse(requestID, message string) ControlResponse {
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponsePayload{
			Subtype:   "error",
			RequestID: requestID,
			Error:     message,
		},
	}
}

// ControlCancelRequest is accepted-and-dropped per §9 (open question: no
// cancellation semantics are implemented).
type ControlCancelRequest struct {
	Type      string `json:"type"` // always "control_cancel_request"
	RequestID string `json:"request_id"`
}

// Outbound control request subtypes (application -> CLI).
const (
	SubtypeInitialize         = "initialize"
	SubtypeInterrupt          = "interrupt"
	SubtypeSetPermissionMode  = "set_permission_mode"
	SubtypeSetModel           = "set_model"
	SubtypeRewindFiles        = "rewind_files"
	SubtypeMCPStatus          = "mcp_status"
)

// Inbound control request subtypes (CLI -> application).
const (
	SubtypeCanUseTool   = "can_use_tool"
	SubtypeHookCallback = "hook_callback"
	SubtypeMCPMessage   = "mcp_message"
)

// HookMatcher is one entry of the hook configuration sent with the
// initialize handshake: an optional string matcher paired with the
// callback IDs it should invoke.
type HookMatcher struct {
	Matcher         *string  `json:"matcher,omitempty"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         *int     `json:"timeout,omitempty"`
}

// InitializeRequest is the payload of the outbound "initialize" control
// request, sent exactly once per session before any caller-initiated work.
type InitializeRequest struct {
	Subtype string                   `json:"subtype"` // "initialize"
	Hooks   map[string][]HookMatcher `json:"hooks,omitempty"`
}

// CanUseToolRequest is the inbound "can_use_tool" payload.
type CanUseToolRequest struct {
	ToolName              string         `json:"tool_name"`
	Input                 map[string]any `json:"input"`
	ToolUseID             string         `json:"tool_use_id"`
	PermissionSuggestions any            `json:"permission_suggestions,omitempty"`
}

// HookCallbackRequest is the inbound "hook_callback" payload.
type HookCallbackRequest struct {
	CallbackID string         `json:"callback_id"`
	Input      map[string]any `json:"input"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
}

// MCPMessageRequest is the inbound "mcp_message" payload.
type MCPMessageRequest struct {
	ServerName string          `json:"server_name"`
	Message    json.RawMessage `json:"message"`
}
