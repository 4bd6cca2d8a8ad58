package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[engine]
max-call-depth = 32
stack-capacity = 64
max-array-length = 4096
trace = true

[log]
verbosity = 2
file = "vmrt.log"

[profile]
enabled = true
database = "/var/lib/vmrt/profile.db"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Engine.MaxCallDepth != 32 {
		t.Errorf("max-call-depth = %d, want 32", c.Engine.MaxCallDepth)
	}
	if c.Engine.StackCapacity != 64 {
		t.Errorf("stack-capacity = %d, want 64", c.Engine.StackCapacity)
	}
	if c.Engine.MaxArrayLength != 4096 {
		t.Errorf("max-array-length = %d, want 4096", c.Engine.MaxArrayLength)
	}
	if !c.Engine.Trace {
		t.Error("trace = false, want true")
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if p := c.LogPath(); p == nil || *p != "vmrt.log" {
		t.Errorf("log path = %v, want vmrt.log", p)
	}
	if c.Profile.Database != "/var/lib/vmrt/profile.db" {
		t.Errorf("database = %q, want absolute path unchanged", c.Profile.Database)
	}

	opts := c.Options()
	if opts.MaxCallDepth != 32 || opts.StackCapacity != 64 || opts.MaxArrayLength != 4096 || !opts.Trace || !opts.Profile {
		t.Errorf("Options() = %+v", opts)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[log]\nverbosity = 1\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Engine.MaxCallDepth != 256 {
		t.Errorf("max-call-depth = %d, want default 256", c.Engine.MaxCallDepth)
	}
	if c.Engine.StackCapacity != 16 {
		t.Errorf("stack-capacity = %d, want default 16", c.Engine.StackCapacity)
	}
	if c.Engine.MaxArrayLength != 1<<24 {
		t.Errorf("max-array-length = %d, want default %d", c.Engine.MaxArrayLength, 1<<24)
	}
	want := filepath.Join(filepath.Dir(c.Path), "vmrt-profile.db")
	if c.Profile.Database != want {
		t.Errorf("database = %q, want %q", c.Profile.Database, want)
	}
	if c.LogPath() != nil {
		t.Error("log path should be nil")
	}
}

func TestLoadConfigParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[engine\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[engine]\ntrace = true\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected config, got nil")
	}
	if !c.Engine.Trace {
		t.Error("trace = false, want true")
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Engine.MaxCallDepth != 256 || c.Profile.Enabled {
		t.Errorf("Default() = %+v", c)
	}
	if c.Path != "" {
		t.Errorf("path = %q, want empty", c.Path)
	}
}
