// Package session provides the Session Client facade: a stateful wrapper
// over the transport, control-protocol handler, and MCP bridges, plus a
// stateless One-Shot entry point for callback-free prompts.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/arach/claude-agent-go/internal/control"
	"github.com/arach/claude-agent-go/internal/mcpbridge"
	"github.com/arach/claude-agent-go/internal/transport"
)

// Options configures a session. It mirrors transport.Options for the CLI
// argument surface and adds the bidirectional callbacks that require the
// control-plane.
type Options struct {
	ExecutablePath string
	WorkingDir     string
	Environment    map[string]string

	SystemPrompt           string
	AppendSystemPrompt     string
	Tools                  []string
	AllowedTools           []string
	DisallowedTools        []string
	MaxTurns               int
	MaxBudgetUSD           float64
	Model                  string
	FallbackModel          string
	Betas                  []string
	PermissionPromptToolName string
	PermissionMode         string
	Continue               bool
	Resume                 string
	Settings               string
	Sandbox                map[string]any
	AddDir                 []string
	MCPServers             map[string]mcpbridge.ServerConfig // external stdio servers, spawned by the CLI
	StrictMCPConfig        bool
	IncludePartialMessages bool
	ForkSession            bool
	Agents                 any
	Agent                  string
	SettingSources         []string
	PluginDir              []string
	MaxThinkingTokens      int
	Effort                 string
	JSONSchema             any
	SessionID              string
	NoSessionPersistence   bool
	DangerouslySkipPermissions bool
	Debug                  bool

	BufferLimit int
	Stderr      func(line string)

	// Permission, when set, answers can_use_tool requests in a Connect
	// session; Connect rejects it together with a non-empty prompt or
	// PermissionPromptToolName. OneShot does not use it.
	Permission control.PermissionCallback

	// Hooks maps event name to its matcher configuration, sent during the
	// initialize handshake.
	Hooks map[string][]control.HookMatcherConfig

	// Bridges maps server_name to an in-process MCP bridge, answering
	// mcp_message requests addressed to it.
	Bridges map[string]*mcpbridge.Bridge
}

func (o Options) transportOptions(prompt string, streaming bool) (transport.Options, error) {
	mcpConfig, err := o.mcpConfigJSON()
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{
		ExecutablePath:         o.ExecutablePath,
		WorkingDir:             o.WorkingDir,
		Environment:            o.Environment,
		Prompt:                 prompt,
		Streaming:              streaming,
		SystemPrompt:           o.SystemPrompt,
		AppendSystemPrompt:     o.AppendSystemPrompt,
		Tools:                  o.Tools,
		AllowedTools:           o.AllowedTools,
		DisallowedTools:        o.DisallowedTools,
		MaxTurns:               o.MaxTurns,
		MaxBudgetUSD:           o.MaxBudgetUSD,
		Model:                  o.Model,
		FallbackModel:          o.FallbackModel,
		Betas:                  o.Betas,
		PermissionPromptTool:   o.PermissionPromptToolName,
		PermissionMode:         o.PermissionMode,
		Continue:               o.Continue,
		Resume:                 o.Resume,
		Settings:               o.Settings,
		Sandbox:                o.Sandbox,
		AddDir:                 o.AddDir,
		MCPConfig:              mcpConfig,
		StrictMCPConfig:        o.StrictMCPConfig,
		IncludePartialMessages: o.IncludePartialMessages,
		ForkSession:            o.ForkSession,
		Agents:                 o.Agents,
		Agent:                  o.Agent,
		SettingSources:         o.SettingSources,
		PluginDir:              o.PluginDir,
		MaxThinkingTokens:      o.MaxThinkingTokens,
		Effort:                 o.Effort,
		JSONSchema:             o.JSONSchema,
		SessionID:              o.SessionID,
		NoSessionPersistence:   o.NoSessionPersistence,
		DangerouslySkipPermissions: o.DangerouslySkipPermissions,
		Debug:                  o.Debug,
		BufferLimit:            o.BufferLimit,
		Stderr:                 o.Stderr,
	}, nil
}

// mcpConfigJSON validates every external stdio MCP server config and
// serializes the set to the literal-JSON form --mcp-config expects. When
// StrictMCPConfig is set, validation runs against a per-session allowlist
// registry populated from exactly the servers configured on these Options
// (NewStrictRegistry); otherwise it runs against the process-wide
// allow-all registry. A config that fails validation is a configuration
// error, not something to drop silently.
func (o Options) mcpConfigJSON() (string, error) {
	if len(o.MCPServers) == 0 {
		return "", nil
	}

	named := make(map[string]mcpbridge.ServerConfig, len(o.MCPServers))
	for name, cfg := range o.MCPServers {
		cfg.Name = name
		named[name] = cfg
	}

	registry := mcpbridge.Global()
	if o.StrictMCPConfig {
		registry = mcpbridge.NewStrictRegistry(named)
	}

	servers := map[string]any{}
	for name, cfg := range named {
		if err := registry.Validate(cfg); err != nil {
			return "", fmt.Errorf("mcp server %q: %w", name, err)
		}
		servers[name] = map[string]any{
			"command": cfg.Command,
			"args":    cfg.Args,
		}
	}

	data, err := json.Marshal(map[string]any{"mcpServers": servers})
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	return string(data), nil
}
