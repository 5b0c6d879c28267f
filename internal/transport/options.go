// Package transport owns the claude CLI subprocess end-to-end: spawning it,
// framing NDJSON on its stdout, and serializing writes to its stdin.
package transport

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Options is the configuration DTO that drives both argument assembly and
// process spawn. Only the mode fields are required: an empty ExecutablePath
// means the executable is discovered, an empty WorkingDir means the child
// inherits the current directory, and everything else is an optional CLI
// flag.
type Options struct {
	ExecutablePath string
	WorkingDir     string
	Environment    map[string]string

	// Mode selects the terminal argument tokens. Exactly one of Prompt or
	// Streaming should be set; Streaming takes precedence if both are.
	Prompt    string
	Streaming bool

	SystemPrompt           string
	AppendSystemPrompt     string
	Tools                  []string // nil = unset, non-nil empty = "disable all"
	AllowedTools           []string
	DisallowedTools        []string
	MaxTurns               int
	MaxBudgetUSD           float64
	Model                  string
	FallbackModel          string
	Betas                  []string
	PermissionPromptTool   string
	PermissionMode         string
	Continue               bool
	Resume                 string
	Settings               string // literal JSON or file path
	Sandbox                map[string]any
	AddDir                 []string
	MCPConfig              string // literal JSON
	StrictMCPConfig        bool
	IncludePartialMessages bool
	ForkSession            bool
	Agents                 any // marshaled to JSON
	Agent                  string
	SettingSources         []string // nil = unset, non-nil empty = "none"
	PluginDir              []string
	MaxThinkingTokens      int
	Effort                 string
	JSONSchema             any
	SessionID              string
	NoSessionPersistence   bool
	DangerouslySkipPermissions bool
	Debug                  bool

	// BufferLimit bounds the NDJSON reassembly buffer. Zero means the
	// default of 1 MiB.
	BufferLimit int

	// Stderr, if set, receives each stderr line as it is read.
	Stderr func(line string)
}

const defaultBufferLimit = 1 << 20 // 1 MiB

func (o Options) bufferLimit() int {
	if o.BufferLimit > 0 {
		return o.BufferLimit
	}
	return defaultBufferLimit
}

// maxCommandLineLength is the platform-specific length beyond which a large
// --agents payload is spilled to a temp file per §4.2.
func maxCommandLineLength() int {
	if runtime.GOOS == "windows" {
		return 8000
	}
	return 100000
}

// BuildArgs assembles the flat ordered argument vector for the CLI
// invocation. agentsSpillPath, if non-empty, is the temp file BuildArgs
// wrote the --agents payload to when the assembled command line would have
// exceeded the platform limit; the caller is responsible for removing it.
func BuildArgs(o Options, writeSpillFile func(data []byte) (path string, err error)) (args []string, agentsSpillPath string, err error) {
	args = append(args, "--output-format", "stream-json")
	args = append(args, "--verbose")

	if o.SystemPrompt != "" {
		args = append(args, "--system-prompt", o.SystemPrompt)
	}
	if o.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.AppendSystemPrompt)
	}
	if o.Tools != nil {
		args = append(args, "--tools", joinCSV(o.Tools))
	}
	for _, t := range o.AllowedTools {
		args = append(args, "--allowed-tools", t)
	}
	for _, t := range o.DisallowedTools {
		args = append(args, "--disallowed-tools", t)
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", o.MaxTurns))
	}
	if o.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", fmt.Sprintf("%g", o.MaxBudgetUSD))
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.FallbackModel != "" {
		args = append(args, "--fallback-model", o.FallbackModel)
	}
	for _, b := range o.Betas {
		args = append(args, "--betas", b)
	}
	if o.PermissionPromptTool != "" {
		args = append(args, "--permission-prompt-tool", o.PermissionPromptTool)
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if o.Continue {
		args = append(args, "--continue")
	}
	if o.Resume != "" {
		args = append(args, "--resume", o.Resume)
	}
	if settings, serr := buildSettings(o); serr != nil {
		return nil, "", serr
	} else if settings != "" {
		args = append(args, "--settings", settings)
	}
	for _, d := range o.AddDir {
		args = append(args, "--add-dir", d)
	}
	if o.MCPConfig != "" {
		args = append(args, "--mcp-config", o.MCPConfig)
	}
	if o.StrictMCPConfig {
		args = append(args, "--strict-mcp-config")
	}
	if o.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if o.ForkSession {
		args = append(args, "--fork-session")
	}
	if o.Agents != nil {
		agentsJSON, merr := json.Marshal(o.Agents)
		if merr != nil {
			return nil, "", fmt.Errorf("marshal agents: %w", merr)
		}
		candidate := append(append([]string{}, args...), "--agents", string(agentsJSON))
		if commandLineLength(candidate) > maxCommandLineLength() && writeSpillFile != nil {
			path, werr := writeSpillFile(agentsJSON)
			if werr != nil {
				return nil, "", fmt.Errorf("spill --agents to temp file: %w", werr)
			}
			agentsSpillPath = path
			args = append(args, "--agents", "@"+path)
		} else {
			args = append(args, "--agents", string(agentsJSON))
		}
	}
	if o.SettingSources != nil {
		args = append(args, "--setting-sources", joinCSV(o.SettingSources))
	}
	for _, d := range o.PluginDir {
		args = append(args, "--plugin-dir", d)
	}
	if o.MaxThinkingTokens > 0 {
		args = append(args, "--max-thinking-tokens", fmt.Sprintf("%d", o.MaxThinkingTokens))
	}
	if o.Effort != "" {
		args = append(args, "--effort", o.Effort)
	}
	if o.JSONSchema != nil {
		schemaJSON, merr := json.Marshal(o.JSONSchema)
		if merr != nil {
			return nil, "", fmt.Errorf("marshal json schema: %w", merr)
		}
		args = append(args, "--json-schema", string(schemaJSON))
	}
	if o.Agent != "" {
		args = append(args, "--agent", o.Agent)
	}
	if o.SessionID != "" {
		args = append(args, "--session-id", o.SessionID)
	}
	if o.NoSessionPersistence {
		args = append(args, "--no-session-persistence")
	}
	if o.DangerouslySkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if o.Debug {
		args = append(args, "--debug")
	}

	if o.Streaming {
		args = append(args, "--input-format", "stream-json")
	} else {
		args = append(args, "--print", "--", o.Prompt)
	}

	return args, agentsSpillPath, nil
}

func buildSettings(o Options) (string, error) {
	if o.Settings == "" && o.Sandbox == nil {
		return "", nil
	}
	if o.Sandbox == nil {
		return o.Settings, nil
	}
	// A sandbox object merges under key "sandbox" of a literal JSON
	// settings document; a settings file path cannot be merged in-process.
	merged := map[string]any{"sandbox": o.Sandbox}
	if o.Settings != "" {
		var base map[string]any
		if err := json.Unmarshal([]byte(o.Settings), &base); err == nil {
			for k, v := range base {
				merged[k] = v
			}
		} else {
			return o.Settings, nil
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	return string(out), nil
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func commandLineLength(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	return n
}
