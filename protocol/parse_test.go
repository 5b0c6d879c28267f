package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseMessageUserText(t *testing.T) {
	raw := []byte(`{"type":"user","uuid":"u1","message":{"role":"user","content":"hello"}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("got %T, want UserMessage", msg)
	}
	text, isText := um.Text()
	if !isText || text != "hello" {
		t.Fatalf("Text() = %q, %v", text, isText)
	}
}

func TestParseMessageUserBlocks(t *testing.T) {
	raw := []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	um := msg.(UserMessage)
	blocks, isArray, err := um.Blocks()
	if err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	if !isArray || len(blocks) != 1 || blocks[0].Type != BlockTypeToolResult {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestParseMessageAssistant(t *testing.T) {
	raw := []byte(`{"type":"assistant","message":{"model":"claude-x","content":[{"type":"text","text":"4"}]}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	am := msg.(AssistantMessage)
	if am.Model != "claude-x" || len(am.ContentBlocks) != 1 || am.ContentBlocks[0].Text != "4" {
		t.Fatalf("unexpected assistant message: %+v", am)
	}
}

func TestParseMessageAssistantUnknownBlockFailsWhole(t *testing.T) {
	raw := []byte(`{"type":"assistant","message":{"model":"m","content":[{"type":"mystery"}]}}`)
	_, err := ParseMessage(raw)
	if err == nil {
		t.Fatal("expected error for unknown content block type")
	}
	var pe *MessageParseError
	if !asMessageParseError(err, &pe) {
		t.Fatalf("expected *MessageParseError, got %T", err)
	}
}

func TestParseMessageResult(t *testing.T) {
	raw := []byte(`{"type":"result","subtype":"success","duration_ms":12.5,"duration_api_ms":10,"is_error":false,"num_turns":1,"session_id":"s1","total_cost_usd":0.0012}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	rm := msg.(ResultMessage)
	if rm.NumTurns != 1 || rm.SessionID != "s1" || rm.TotalCostUSD == nil || *rm.TotalCostUSD != 0.0012 {
		t.Fatalf("unexpected result message: %+v", rm)
	}
}

func TestParseMessageSystemInit(t *testing.T) {
	raw := []byte(`{"type":"system","subtype":"init","tools":["Bash"],"model":"claude-x"}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	sm := msg.(SystemMessage)
	if sm.Subtype != "init" {
		t.Fatalf("unexpected subtype: %s", sm.Subtype)
	}
	var data map[string]any
	if err := json.Unmarshal(sm.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["model"] != "claude-x" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestParseMessageStreamEvent(t *testing.T) {
	raw := []byte(`{"type":"stream_event","uuid":"u1","session_id":"s1","event":{"type":"content_block_delta"}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	se := msg.(StreamEvent)
	if se.SessionID != "s1" {
		t.Fatalf("unexpected stream event: %+v", se)
	}
}

func TestParseMessageMissingType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"foo":"bar"}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestParseMessageUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestIsControlRecord(t *testing.T) {
	cases := []struct {
		raw       string
		wantCtrl  bool
		wantKind  string
	}{
		{`{"type":"control_request","request_id":"1","request":{}}`, true, "control_request"},
		{`{"type":"control_response","response":{}}`, true, "control_response"},
		{`{"type":"control_cancel_request","request_id":"1"}`, true, "control_cancel_request"},
		{`{"type":"assistant"}`, false, ""},
	}
	for _, c := range cases {
		isCtrl, kind := IsControlRecord([]byte(c.raw))
		if isCtrl != c.wantCtrl || kind != c.wantKind {
			t.Errorf("IsControlRecord(%s) = %v, %q; want %v, %q", c.raw, isCtrl, kind, c.wantCtrl, c.wantKind)
		}
	}
}

func asMessageParseError(err error, target **MessageParseError) bool {
	if pe, ok := err.(*MessageParseError); ok {
		*target = pe
		return true
	}
	return false
}
