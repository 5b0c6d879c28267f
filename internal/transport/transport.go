package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/arach/claude-agent-go/protocol"
)

// Transport owns the claude CLI subprocess: it frames NDJSON on stdout into
// a stream of raw records, serializes writes to stdin, and optionally
// fans stderr lines out to a caller-supplied callback.
type Transport struct {
	proc *process

	records chan json.RawMessage
	errc    chan error

	writeMu sync.Mutex
	closed  bool
	termErr error

	spillPath string
}

// Start resolves the executable, assembles arguments, spawns the process,
// and begins reading stdout as a lazy NDJSON stream.
func Start(ctx context.Context, opts Options) (*Transport, error) {
	exe, err := Discover(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	if version, verr := CheckVersion(ctx, exe); verr != nil {
		log.Printf("transport: version check for %s failed (continuing): %v", exe, verr)
	} else if version != "" {
		log.Printf("transport: %s reports version %s", exe, trimSpace([]byte(version)))
	}

	args, spillPath, err := BuildArgs(opts, func(data []byte) (string, error) {
		f, err := os.CreateTemp("", "claude-agents-*.json")
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			os.Remove(f.Name())
			return "", err
		}
		return f.Name(), nil
	})
	if err != nil {
		return nil, &protocol.SdkError{Message: fmt.Sprintf("assemble arguments: %v", err)}
	}

	proc, err := startProcess(ctx, processConfig{
		Command:     exe,
		Args:        args,
		WorkingDir:  opts.WorkingDir,
		Environment: ambientEnv(opts),
	})
	if err != nil {
		if spillPath != "" {
			os.Remove(spillPath)
		}
		log.Printf("transport: failed to start %s: %v", exe, err)
		return nil, &protocol.ConnectionError{Message: "failed to start claude CLI", Cause: err}
	}
	log.Printf("transport: started %s (streaming=%v)", exe, opts.Streaming)

	t := &Transport{
		proc:      proc,
		records:   make(chan json.RawMessage, 100),
		errc:      make(chan error, 1),
		spillPath: spillPath,
	}

	if !opts.Streaming {
		_ = t.EndInput()
	}

	go t.readLoop(opts.bufferLimit())
	if opts.Stderr != nil {
		go t.stderrLoop(opts.Stderr)
	}

	return t, nil
}

// Records returns the channel of decoded-but-untyped JSON records read from
// stdout, in the exact order they were emitted.
func (t *Transport) Records() <-chan json.RawMessage { return t.records }

// Err returns the terminal error that closed the record stream, if any.
// It only yields a value after Records() has been drained to closure.
func (t *Transport) Err() error {
	select {
	case err := <-t.errc:
		t.errc <- err
		return err
	default:
		return nil
	}
}

// readLoop reassembles NDJSON from stdout, honoring the bounded buffer. A
// record split across several lines or reads is joined until it decodes;
// escaped newlines inside JSON strings need no special handling. Records
// must be separated by newlines: two objects on one line are not split and
// never decode.
func (t *Transport) readLoop(limit int) {
	defer close(t.records)

	reader := bufio.NewReaderSize(t.proc.Stdout(), 64*1024)
	var buf []byte

	emit := func(line []byte) bool {
		trimmed := trimSpace(line)
		if len(trimmed) == 0 {
			return true
		}
		buf = append(buf, trimmed...)
		if !json.Valid(buf) {
			if len(buf) > limit {
				t.setTerminalError(&protocol.DecodeError{Limit: limit})
				buf = nil
				return false
			}
			return true
		}
		record := make(json.RawMessage, len(buf))
		copy(record, buf)
		buf = nil
		t.records <- record
		return true
	}

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if !emit(line) {
				t.drainAndFail()
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				if len(buf) > 0 && json.Valid(buf) {
					record := make(json.RawMessage, len(buf))
					copy(record, buf)
					select {
					case t.records <- record:
					default:
					}
				}
				t.onStreamEnd()
				return
			}
			t.setTerminalError(&protocol.ConnectionError{Message: "stdout read failed", Cause: err})
			return
		}
	}
}

func (t *Transport) onStreamEnd() {
	if err := t.proc.Wait(); err != nil {
		stderr := t.drainStderrForError()
		if exitCode := exitCodeOf(err); exitCode != 0 {
			log.Printf("transport: process exited with code %d", exitCode)
			t.setTerminalError(&protocol.ProcessFailed{ExitCode: exitCode, Stderr: stderr})
			return
		}
	}
	log.Printf("transport: stdout stream ended")
}

func (t *Transport) drainAndFail() {
	// Keep draining stdout so the process can exit, but stop decoding.
	io.Copy(io.Discard, t.proc.Stdout())
}

func (t *Transport) setTerminalError(err error) {
	log.Printf("transport: terminal error: %v", err)
	select {
	case t.errc <- err:
	default:
	}
}

func (t *Transport) drainStderrForError() string {
	data, _ := io.ReadAll(io.LimitReader(t.proc.Stderr(), 64*1024))
	return string(data)
}

func (t *Transport) stderrLoop(cb func(string)) {
	scanner := bufio.NewScanner(t.proc.Stderr())
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		func() {
			defer func() { recover() }()
			cb(scanner.Text())
		}()
	}
}

// WriteRecord marshals v and writes it to stdin terminated by a newline,
// under the write mutex. At most one write is in flight at a time.
func (t *Transport) WriteRecord(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.writeLine(data)
}

func (t *Transport) writeLine(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return &protocol.ConnectionError{Message: "transport is closed"}
	}
	if t.termErr != nil {
		return t.termErr
	}
	if err := t.Err(); err != nil {
		return err
	}

	stdin := t.proc.Stdin()
	if stdin == nil {
		return &protocol.ConnectionError{Message: "stdin already closed"}
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		t.termErr = &protocol.ConnectionError{Message: "stdin write failed", Cause: err}
		return t.termErr
	}
	return nil
}

// EndInput closes stdin. A closed stdin may never be reopened.
func (t *Transport) EndInput() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	stdin := t.proc.Stdin()
	if stdin == nil {
		return nil
	}
	err := stdin.Close()
	t.proc.stdin = nil
	return err
}

// Close tears the transport down irreversibly: removes any spill file,
// closes stdin, and signals the process to terminate (SIGTERM, then
// SIGKILL after 5s) if it is still alive.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	if t.closed {
		t.writeMu.Unlock()
		return nil
	}
	t.closed = true
	t.writeMu.Unlock()

	if t.spillPath != "" {
		os.Remove(t.spillPath)
	}

	log.Printf("transport: closing")
	return t.proc.Stop(5 * time.Second)
}

// sdkVersion is reported to the CLI via CLAUDE_AGENT_SDK_VERSION for
// observability; it has no effect on wire behavior.
const sdkVersion = "0.1.0"

var ambientEnvOnce sync.Once

// ambientEnv sets the small set of process-wide observability environment
// variables the CLI reads, lazily and idempotently on first session start,
// then returns the caller's environment overrides unchanged: startProcess
// captures os.Environ() after this call, so the child inherits them too.
func ambientEnv(opts Options) map[string]string {
	ambientEnvOnce.Do(func() {
		entrypoint := "sdk-go"
		if opts.Streaming {
			entrypoint = "sdk-go-client"
		}
		os.Setenv("CLAUDE_CODE_ENTRYPOINT", entrypoint)
		os.Setenv("CLAUDE_AGENT_SDK_VERSION", sdkVersion)
		os.Setenv("CLAUDE_CODE_ENABLE_SDK_FILE_CHECKPOINTING", "1")
		if opts.WorkingDir != "" {
			os.Setenv("PWD", opts.WorkingDir)
		}
	})
	return opts.Environment
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpaceByte(b[start]) {
		start++
	}
	for end > start && isSpaceByte(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func exitCodeOf(err error) int {
	type exitCoder interface{ ExitCode() int }
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}
