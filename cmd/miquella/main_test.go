package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TymurD/miquella/common/version"
	"github.com/TymurD/miquella/internal/miquella/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "miquella.yaml")
	data := "# bot settings\ndatabase:\n  path: " + filepath.Join(dir, "m.db") + "\nprompts:\n  persona_instruction: \"\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version.Info() {
		t.Errorf("version output = %q", out)
	}
}

func TestPersonaCommands(t *testing.T) {
	path := tempConfig(t)

	out, err := execute(t, "--config", path, "persona", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.TrimSpace(out) != "(empty)" {
		t.Errorf("show empty = %q", out)
	}

	if _, err := execute(t, "--config", path, "persona", "set", "you", "love", "cats"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := execute(t, "--config", path, "persona", "append", "meow often"); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err = execute(t, "--config", path, "persona", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.TrimSpace(out) != "You love cats. Meow often." {
		t.Errorf("show = %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# bot settings") {
		t.Errorf("comment lost on write-back:\n%s", data)
	}

	if _, err := execute(t, "--config", path, "persona", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, _ = execute(t, "--config", path, "persona", "show")
	if strings.TrimSpace(out) != "(empty)" {
		t.Errorf("show after reset = %q", out)
	}
}

func TestMemoryCount_Empty(t *testing.T) {
	path := tempConfig(t)

	out, err := execute(t, "--config", path, "memory", "count")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if strings.TrimSpace(out) != "0 messages in messages" {
		t.Errorf("count = %q", out)
	}
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "persona", "show")
	if !errors.Is(err, config.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestRun_UnknownPlatform(t *testing.T) {
	path := tempConfig(t)
	if _, err := execute(t, "--config", path, "run", "--platform", "irc"); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}
