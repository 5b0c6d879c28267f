package transport

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/arach/claude-agent-go/protocol"
)

// newTestTransport wires a Transport to a caller-controlled stdout pipe,
// bypassing process spawn entirely so the NDJSON reassembly logic can be
// exercised directly.
func newTestTransport(stdout io.ReadCloser) *Transport {
	return &Transport{
		proc: &process{
			stdout: stdout,
			stderr: io.NopCloser(strings.NewReader("")),
		},
		records: make(chan json.RawMessage, 100),
		errc:    make(chan error, 1),
	}
}

func TestReadLoopSplitAcrossReads(t *testing.T) {
	pr, pw := io.Pipe()
	tr := newTestTransport(pr)
	go tr.readLoop(1 << 20)

	go func() {
		pw.Write([]byte(`{"type":"assistant","message":{"mo`))
		time.Sleep(5 * time.Millisecond)
		pw.Write([]byte(`del":"m","content":[]}}` + "\n"))
		pw.Close()
	}()

	select {
	case rec := <-tr.Records():
		var env struct{ Type string }
		if err := json.Unmarshal(rec, &env); err != nil {
			t.Fatalf("unmarshal reassembled record: %v", err)
		}
		if env.Type != "assistant" {
			t.Fatalf("got type %q, want assistant", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled record")
	}
}

func TestReadLoopMultipleRecords(t *testing.T) {
	pr, pw := io.Pipe()
	tr := newTestTransport(pr)
	go tr.readLoop(1 << 20)

	go func() {
		pw.Write([]byte(`{"type":"system","subtype":"init"}` + "\n"))
		pw.Write([]byte(`{"type":"result","subtype":"success"}` + "\n"))
		pw.Close()
	}()

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case rec := <-tr.Records():
			var env struct{ Type string }
			json.Unmarshal(rec, &env)
			got = append(got, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d records", i)
		}
	}
	if got[0] != "system" || got[1] != "result" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestReadLoopBufferOverflow(t *testing.T) {
	pr, pw := io.Pipe()
	tr := newTestTransport(pr)
	const limit = 32
	go tr.readLoop(limit)

	go func() {
		// Never-valid, never-newline-terminated growth past the limit.
		pw.Write([]byte(strings.Repeat("a", limit+1)))
		pw.Close()
	}()

	select {
	case _, ok := <-tr.Records():
		if ok {
			t.Fatal("expected records channel to close without emitting a record")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for records channel to close")
	}

	err := tr.Err()
	if err == nil {
		t.Fatal("expected a terminal error after overflow")
	}
	var decodeErr *protocol.DecodeError
	if de, ok := err.(*protocol.DecodeError); ok {
		decodeErr = de
	} else {
		t.Fatalf("got %T, want *protocol.DecodeError", err)
	}
	if decodeErr.Limit != limit {
		t.Fatalf("decodeErr.Limit = %d, want %d", decodeErr.Limit, limit)
	}
}

func TestReadLoopEmitsTrailingRecordOnEOFWithoutNewline(t *testing.T) {
	pr, pw := io.Pipe()
	tr := newTestTransport(pr)
	go tr.readLoop(1 << 20)

	go func() {
		pw.Write([]byte(`{"type":"system","subtype":"init"}`))
		pw.Close()
	}()

	select {
	case rec := <-tr.Records():
		var env struct{ Type string }
		json.Unmarshal(rec, &env)
		if env.Type != "system" {
			t.Fatalf("got type %q, want system", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trailing record")
	}
}

func TestWriteLineRejectsAfterClose(t *testing.T) {
	pr, pw := io.Pipe()
	tr := newTestTransport(pr)
	tr.closed = true
	pw.Close()
	pr.Close()

	if err := tr.WriteRecord(map[string]string{"type": "user"}); err == nil {
		t.Fatal("expected error writing to a closed transport")
	}
}
