package batch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wehubfusion/terser/pkg/charset"
	"github.com/wehubfusion/terser/pkg/discovery"
	"github.com/wehubfusion/terser/pkg/minification"
)

var (
	// ErrTerserNotReachable is returned when the Terser library cannot be read.
	ErrTerserNotReachable = errors.New("given Terser file is not reachable")
	// ErrNoOptions is returned when the options payload is empty.
	ErrNoOptions = errors.New("no Terser options defined")
)

// Config holds the parameters of a minification batch.
type Config struct {
	Verbose bool `toml:"verbose"`
	// Threads is the requested number of workers; it is clamped to the available processors.
	Threads int `toml:"threads"`

	TerserSource    string `toml:"terser_src"`
	SourceMapSource string `toml:"source_map_src"`

	SourceDir string   `toml:"source_dir"`
	TargetDir string   `toml:"target_dir"`
	Files     []string `toml:"files"`
	Includes  []string `toml:"includes"`
	Excludes  []string `toml:"excludes"`
	Suffix    string   `toml:"suffix"`

	// Options is passed to Terser.minify; unquoted keys are allowed.
	Options  string `toml:"options"`
	Encoding string `toml:"encoding"`

	// Timeout bounds each file. Zero means no bound.
	Timeout         time.Duration `toml:"timeout"`
	IsolateFailures bool          `toml:"isolate_failures"`
}

// DefaultConfig returns the defaults used by the command line.
func DefaultConfig() Config {
	return Config{
		Threads:  1,
		Suffix:   "min",
		Options:  "{}",
		Encoding: minification.DefaultCharset,
	}
}

// ApplyDefaults fills the fields whose zero value is never meaningful.
func (c *Config) ApplyDefaults() {
	if c.Encoding == "" {
		c.Encoding = minification.DefaultCharset
	}
}

// Validate checks the configuration. The Terser library must be a readable file.
func (c *Config) Validate() error {
	if c.TerserSource == "" {
		return fmt.Errorf("%w: no path configured", ErrTerserNotReachable)
	}
	f, err := os.Open(c.TerserSource)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTerserNotReachable, c.TerserSource)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTerserNotReachable, c.TerserSource)
	}

	if c.Options == "" {
		return ErrNoOptions
	}
	if c.SourceDir == "" {
		return fmt.Errorf("source directory is required")
	}
	if c.TargetDir == "" {
		return fmt.Errorf("target directory is required")
	}
	if _, err := charset.Lookup(c.Encoding); err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}

// Context returns the shared configuration of every item in the batch.
func (c *Config) Context() *minification.Context {
	return &minification.Context{
		TerserSource:    c.TerserSource,
		SourceMapSource: c.SourceMapSource,
		Charset:         c.Encoding,
		Verbose:         c.Verbose,
		Options:         c.Options,
	}
}

// Discovery returns the file selection of the batch.
func (c *Config) Discovery() discovery.Config {
	return discovery.Config{
		SourceDir: c.SourceDir,
		TargetDir: c.TargetDir,
		Files:     c.Files,
		Includes:  c.Includes,
		Excludes:  c.Excludes,
		Suffix:    c.Suffix,
	}
}
