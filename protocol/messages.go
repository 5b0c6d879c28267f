package protocol

import "encoding/json"

// Message is the closed, five-case tagged variant every decoded record
// becomes. Consumers type-switch on the concrete type to interpret a
// message; Raw always returns the original bytes for debugging.
type Message interface {
	messageType() string
	Raw() []byte
}

type base struct {
	raw []byte
}

func (b base) Raw() []byte { return b.raw }

// UserMessage is a user turn: either plain text or an array of content
// blocks (most commonly tool_result blocks echoing a prior tool_use).
type UserMessage struct {
	base
	Content         json.RawMessage // string or []ContentBlock, see Blocks()
	UUID            string
	ParentToolUseID *string
}

func (UserMessage) messageType() string { return "user" }

// Blocks decodes Content as an array of content blocks. It returns
// (nil, false, nil) when Content is a plain JSON string rather than an array.
func (m UserMessage) Blocks() ([]ContentBlock, bool, error) {
	var probe any
	if err := json.Unmarshal(m.Content, &probe); err != nil {
		return nil, false, err
	}
	if _, ok := probe.(string); ok {
		return nil, false, nil
	}
	blocks, err := decodeContentBlocks(m.Content)
	return blocks, true, err
}

// Text returns Content when it is a plain string, or "" otherwise.
func (m UserMessage) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// AssistantError enumerates the recognized assistant error reasons.
type AssistantError string

const (
	AssistantErrorAuthFailed     AssistantError = "auth_failed"
	AssistantErrorBilling        AssistantError = "billing"
	AssistantErrorRateLimit      AssistantError = "rate_limit"
	AssistantErrorInvalidRequest AssistantError = "invalid_request"
	AssistantErrorServer         AssistantError = "server"
	AssistantErrorUnknown        AssistantError = "unknown"
)

// AssistantMessage is a full model response turn.
type AssistantMessage struct {
	base
	ContentBlocks   []ContentBlock
	Model           string
	ParentToolUseID *string
	Error           AssistantError
}

func (AssistantMessage) messageType() string { return "assistant" }

// SystemMessage is an out-of-band notice; Data is opaque JSON whose shape
// depends on Subtype (the "init" subtype carries advertised capabilities).
type SystemMessage struct {
	base
	Subtype string
	Data    json.RawMessage
}

func (SystemMessage) messageType() string { return "system" }

// ResultMessage terminates a response turn.
type ResultMessage struct {
	base
	Subtype          string
	DurationMS       float64
	DurationAPIMS    float64
	IsError          bool
	NumTurns         int
	SessionID        string
	TotalCostUSD     *float64
	Usage            json.RawMessage
	Result           *string
	StructuredOutput json.RawMessage
}

func (ResultMessage) messageType() string { return "result" }

// StreamEvent is an incremental partial-message update.
type StreamEvent struct {
	base
	UUID            string
	SessionID       string
	Event           json.RawMessage
	ParentToolUseID *string
}

func (StreamEvent) messageType() string { return "stream_event" }
