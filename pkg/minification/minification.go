// Package minification defines the values exchanged between discovery, the worker pool and
// persistence: the per-file work item and the batch-wide configuration shared by every item.
package minification

import (
	"fmt"
	"strings"
)

// DefaultCharset is used when a Context does not name one.
const DefaultCharset = "UTF-8"

// MapSuffix is appended to a target path to name its source map companion.
const MapSuffix = ".map"

// Context is the configuration shared by every item of a batch.
// It is never mutated once the batch has started and is compared as a whole
// to decide whether a worker's engine can be reused.
type Context struct {
	// TerserSource is the path of the Terser bundle loaded into each engine.
	TerserSource string

	// SourceMapSource is the optional path of the source-map library.
	// Empty means no secondary library is loaded.
	SourceMapSource string

	// Charset names the encoding used to read sources and write results.
	Charset string

	// Verbose enables per-item info logging.
	Verbose bool

	// Options is the raw Terser options payload. Unquoted keys are accepted.
	Options string
}

// Equal reports whether c and other hold the same configuration.
// A nil Context only equals another nil Context.
func (c *Context) Equal(other *Context) bool {
	if c == nil || other == nil {
		return c == other
	}
	return *c == *other
}

// CharsetName returns the configured charset or DefaultCharset.
func (c *Context) CharsetName() string {
	if c == nil || strings.TrimSpace(c.Charset) == "" {
		return DefaultCharset
	}
	return c.Charset
}

// HasSourceMapSource reports whether a secondary library is configured.
func (c *Context) HasSourceMapSource() bool {
	return c != nil && c.SourceMapSource != ""
}

// Minification is one unit of work: a source file, its target and the shared context.
// Results are absent until execution succeeds; execution produces a new value
// through WithResult and WithSourceMap instead of mutating the input.
type Minification struct {
	Context *Context
	Source  string
	Target  string

	result    *string
	sourceMap *string
}

// New creates a work item without results.
func New(ctx *Context, source, target string) Minification {
	return Minification{
		Context: ctx,
		Source:  source,
		Target:  target,
	}
}

// Result returns the minified code, if any.
func (m Minification) Result() (string, bool) {
	if m.result == nil {
		return "", false
	}
	return *m.result, true
}

// SourceMap returns the generated source map, if any.
func (m Minification) SourceMap() (string, bool) {
	if m.sourceMap == nil {
		return "", false
	}
	return *m.sourceMap, true
}

// HasSourceMap reports whether a source map was produced.
func (m Minification) HasSourceMap() bool {
	return m.sourceMap != nil
}

// WithResult returns a copy of m carrying code as its primary result.
func (m Minification) WithResult(code string) Minification {
	m.result = &code
	return m
}

// WithSourceMap returns a copy of m carrying sourceMap as its secondary result.
func (m Minification) WithSourceMap(sourceMap string) Minification {
	m.sourceMap = &sourceMap
	return m
}

// MapPath is the location of the source map companion of m.
func (m Minification) MapPath() string {
	return m.Target + MapSuffix
}

// Key identifies the item within a batch.
func (m Minification) Key() string {
	return m.Source + "\x00" + m.Target
}

func (m Minification) String() string {
	_, done := m.Result()
	return fmt.Sprintf("Minification{source=%s, target=%s, result=%t, sourceMap=%t}",
		m.Source, m.Target, done, m.HasSourceMap())
}

// Dedupe drops items whose Key was already seen, keeping the first occurrence.
func Dedupe(items []Minification) []Minification {
	seen := make(map[string]struct{}, len(items))
	out := make([]Minification, 0, len(items))
	for _, item := range items {
		key := item.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
