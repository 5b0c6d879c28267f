package protocol

import "encoding/json"

// envelope peeks at the tag fields common to every record shape without
// committing to a concrete type.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// ParseMessage decodes a single JSON record into its tagged Message
// variant. It is total and pure: no I/O, and every failure is reported as
// a *MessageParseError carrying the offending raw bytes, never a panic.
func ParseMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	if env.Type == "" {
		return nil, &MessageParseError{Raw: raw, Cause: errMissingType}
	}

	switch env.Type {
	case "user":
		return parseUser(raw)
	case "assistant":
		return parseAssistant(raw)
	case "system":
		return parseSystem(raw, env.Subtype)
	case "result":
		return parseResult(raw)
	case "stream_event":
		return parseStreamEvent(raw)
	default:
		return nil, &MessageParseError{Raw: raw, Cause: &unknownTypeError{Type: env.Type}}
	}
}

var errMissingType = &unknownTypeError{Type: ""}

type unknownTypeError struct{ Type string }

func (e *unknownTypeError) Error() string {
	if e.Type == "" {
		return "record missing required field \"type\""
	}
	return "unrecognized record type: " + e.Type
}

func parseUser(raw []byte) (Message, error) {
	var wire struct {
		UUID            string `json:"uuid"`
		ParentToolUseID *string `json:"parent_tool_use_id"`
		Message         struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	if len(wire.Message.Content) == 0 {
		return nil, &MessageParseError{Raw: raw, Cause: errMissingContent}
	}
	return UserMessage{
		base:            base{raw: raw},
		Content:         wire.Message.Content,
		UUID:            wire.UUID,
		ParentToolUseID: wire.ParentToolUseID,
	}, nil
}

var errMissingContent = &unknownTypeError{Type: "user (missing message.content)"}

func parseAssistant(raw []byte) (Message, error) {
	var wire struct {
		ParentToolUseID *string `json:"parent_tool_use_id"`
		Error           AssistantError `json:"error"`
		Message         struct {
			Model   string          `json:"model"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	var blocks []ContentBlock
	if len(wire.Message.Content) > 0 {
		var err error
		blocks, err = decodeContentBlocks(wire.Message.Content)
		if err != nil {
			return nil, &MessageParseError{Raw: raw, Cause: err}
		}
	}
	return AssistantMessage{
		base:            base{raw: raw},
		ContentBlocks:   blocks,
		Model:           wire.Message.Model,
		ParentToolUseID: wire.ParentToolUseID,
		Error:           wire.Error,
	}, nil
}

func parseSystem(raw []byte, subtype string) (Message, error) {
	var wire struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	data := wire.Data
	if len(data) == 0 {
		// Many system subtypes (e.g. "init") carry their payload at the
		// top level rather than nested under "data"; fall back to the
		// whole record so no information is lost.
		data = raw
	}
	return SystemMessage{
		base:    base{raw: raw},
		Subtype: subtype,
		Data:    data,
	}, nil
}

func parseResult(raw []byte) (Message, error) {
	var wire struct {
		Subtype          string          `json:"subtype"`
		DurationMS       float64         `json:"duration_ms"`
		DurationAPIMS    float64         `json:"duration_api_ms"`
		IsError          bool            `json:"is_error"`
		NumTurns         int             `json:"num_turns"`
		SessionID        string          `json:"session_id"`
		TotalCostUSD     *float64        `json:"total_cost_usd"`
		Usage            json.RawMessage `json:"usage"`
		Result           *string         `json:"result"`
		StructuredOutput json.RawMessage `json:"structured_output"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	return ResultMessage{
		base:             base{raw: raw},
		Subtype:          wire.Subtype,
		DurationMS:       wire.DurationMS,
		DurationAPIMS:    wire.DurationAPIMS,
		IsError:          wire.IsError,
		NumTurns:         wire.NumTurns,
		SessionID:        wire.SessionID,
		TotalCostUSD:     wire.TotalCostUSD,
		Usage:            wire.Usage,
		Result:           wire.Result,
		StructuredOutput: wire.StructuredOutput,
	}, nil
}

func parseStreamEvent(raw []byte) (Message, error) {
	var wire struct {
		UUID            string          `json:"uuid"`
		SessionID       string          `json:"session_id"`
		Event           json.RawMessage `json:"event"`
		ParentToolUseID *string         `json:"parent_tool_use_id"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MessageParseError{Raw: raw, Cause: err}
	}
	return StreamEvent{
		base:            base{raw: raw},
		UUID:            wire.UUID,
		SessionID:       wire.SessionID,
		Event:           wire.Event,
		ParentToolUseID: wire.ParentToolUseID,
	}, nil
}

// IsControlRecord reports whether a raw record's "type" tag is one of the
// three control-plane values (§3); everything else is data-plane.
func IsControlRecord(raw []byte) (isControl bool, kind string) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, ""
	}
	switch env.Type {
	case "control_request", "control_response", "control_cancel_request":
		return true, env.Type
	default:
		return false, ""
	}
}
