package mcpbridge

import (
	"errors"
	"testing"
)

func TestServerRegistryAllowAll(t *testing.T) {
	r := newAllowAllRegistry()

	if err := r.Validate(ServerConfig{Name: "fs", Command: "/usr/bin/fs-server", Args: []string{"--root", "/tmp"}}); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	err := r.Validate(ServerConfig{Name: "fs", Command: "relative/path"})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("got %v, want ErrInvalidPath", err)
	}
}

func TestNewStrictRegistryAllowlistsConfiguredServersOnly(t *testing.T) {
	r := NewStrictRegistry(map[string]ServerConfig{
		"fs": {Command: "/usr/bin/fs-server", Args: []string{"--root", "/tmp"}},
	})

	if err := r.Validate(ServerConfig{Name: "fs", Command: "/usr/bin/fs-server", Args: []string{"--root", "/tmp"}}); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	err := r.Validate(ServerConfig{Name: "fs", Command: "/usr/bin/evil"})
	if !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("got %v, want ErrCommandNotAllowed", err)
	}

	err = r.Validate(ServerConfig{Name: "unknown", Command: "/usr/bin/fs-server"})
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
}

func TestServerRegistryRejectsNulAndOversizedArgs(t *testing.T) {
	r := newAllowAllRegistry()

	err := r.Validate(ServerConfig{Command: "/usr/bin/fs-server", Args: []string{"bad\x00arg"}})
	if !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("got %v, want ErrInvalidArg", err)
	}

	manyArgs := make([]string, DefaultMaxArgs+1)
	for i := range manyArgs {
		manyArgs[i] = "a"
	}
	err = r.Validate(ServerConfig{Command: "/usr/bin/fs-server", Args: manyArgs})
	if !errors.Is(err, ErrTooManyArgs) {
		t.Fatalf("got %v, want ErrTooManyArgs", err)
	}
}

func TestGlobalRegistryIsAllowAllByDefault(t *testing.T) {
	g := Global()
	if err := g.Validate(ServerConfig{Command: "/usr/bin/anything"}); err != nil {
		t.Fatalf("expected global allow-all registry to accept an absolute path: %v", err)
	}
}
