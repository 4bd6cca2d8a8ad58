// Package config handles vmrt.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vmrt/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "vmrt.toml"

// Config represents a vmrt.toml file.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Log     Log     `toml:"log"`
	Profile Profile `toml:"profile"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Engine configures the interpreter.
type Engine struct {
	MaxCallDepth   int  `toml:"max-call-depth"`
	StackCapacity  int  `toml:"stack-capacity"`
	MaxArrayLength int  `toml:"max-array-length"`
	Trace          bool `toml:"trace"`
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Profile configures profiling and where snapshots are stored.
type Profile struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	def := vm.DefaultOptions()
	if c.Engine.MaxCallDepth <= 0 {
		c.Engine.MaxCallDepth = def.MaxCallDepth
	}
	if c.Engine.StackCapacity <= 0 {
		c.Engine.StackCapacity = def.StackCapacity
	}
	if c.Engine.MaxArrayLength <= 0 {
		c.Engine.MaxArrayLength = def.MaxArrayLength
	}
	if c.Profile.Database == "" {
		c.Profile.Database = "vmrt-profile.db"
	}
}

// Load parses vmrt.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file at an explicit path. A relative
// profile database path is resolved against the file's directory.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.applyDefaults()
	if !filepath.IsAbs(c.Profile.Database) {
		c.Profile.Database = filepath.Join(filepath.Dir(c.Path), c.Profile.Database)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a vmrt.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Options returns the interpreter options described by the configuration.
func (c *Config) Options() vm.Options {
	return vm.Options{
		MaxCallDepth:   c.Engine.MaxCallDepth,
		StackCapacity:  c.Engine.StackCapacity,
		MaxArrayLength: c.Engine.MaxArrayLength,
		Trace:          c.Engine.Trace,
		Profile:        c.Profile.Enabled,
	}
}

// LogPath returns the log file path, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}
