package protocol

import "encoding/json"

// ContentBlock is a tagged variant carried inside User and Assistant
// messages. Exactly one of the type-specific fields is populated,
// matching the block's Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// decodeContentBlocks decodes a JSON array of content blocks, failing the
// whole message if any element has an unrecognized type, per §4.1.
func decodeContentBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	for i := range blocks {
		switch blocks[i].Type {
		case BlockTypeText, BlockTypeThinking, BlockTypeToolUse, BlockTypeToolResult:
		default:
			return nil, &unknownBlockTypeError{Type: blocks[i].Type}
		}
	}
	return blocks, nil
}

type unknownBlockTypeError struct{ Type string }

func (e *unknownBlockTypeError) Error() string {
	return "unknown content block type: " + e.Type
}
