package transport

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/arach/claude-agent-go/protocol"
)

// commonInstallLocations lists fixed system paths checked after PATH search,
// in order. The user's home-directory candidates are checked separately,
// before PATH search.
func commonInstallLocations() []string {
	return []string{
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
}

// Discover resolves the claude executable: explicit path -> CLAUDE_CLI_PATH
// -> the user's home-directory installs (~/.claude/local/claude,
// ~/.local/bin/claude) -> PATH search -> a fixed list of common system
// install locations. A home-directory install therefore wins over one found
// on PATH.
func Discover(explicitPath string) (string, error) {
	if explicitPath != "" {
		if isExecutable(explicitPath) {
			return explicitPath, nil
		}
		return "", &protocol.CliNotFound{AttemptedPath: explicitPath}
	}

	if envPath := os.Getenv("CLAUDE_CLI_PATH"); envPath != "" {
		if isExecutable(envPath) {
			return envPath, nil
		}
		return "", &protocol.CliNotFound{AttemptedPath: envPath}
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates := []string{
			filepath.Join(home, ".claude", "local", "claude"),
			filepath.Join(home, ".local", "bin", "claude"),
		}
		for _, c := range candidates {
			if isExecutable(c) {
				return c, nil
			}
		}
	}

	names := []string{"claude"}
	if runtime.GOOS == "windows" {
		names = []string{"claude.cmd", "claude.exe", "claude"}
	}
	for _, name := range names {
		if found, err := exec.LookPath(name); err == nil {
			return found, nil
		}
	}

	for _, path := range commonInstallLocations() {
		if isExecutable(path) {
			return path, nil
		}
	}

	return "", &protocol.CliNotFound{AttemptedPath: "claude"}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

// CheckVersion runs `<executable> -v` with a 2s timeout and returns its raw
// output. The output is not compared against any minimum version. A failure
// or timeout is returned as an error, which the caller only logs.
func CheckVersion(ctx context.Context, executable string) (string, error) {
	if os.Getenv("CLAUDE_AGENT_SDK_SKIP_VERSION_CHECK") != "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, executable, "-v").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
