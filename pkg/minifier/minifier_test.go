package minifier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/terser/pkg/minification"
)

const terserStub = "testdata/terser-stub.js"

func newContext(options string) *minification.Context {
	return &minification.Context{
		TerserSource: terserStub,
		Charset:      minification.DefaultCharset,
		Options:      options,
	}
}

func TestExecuteMinifiesFunction(t *testing.T) {
	m := New()
	defer m.Close()

	item := minification.New(newContext("{}"), "testdata/add.js", "out/add.min.js")

	result, err := m.Execute(context.Background(), item)
	require.NoError(t, err)

	code, ok := result.Result()
	require.True(t, ok)
	assert.Equal(t, "function add(a,b){return a+b}", code)
	assert.False(t, result.HasSourceMap())

	_, ok = item.Result()
	assert.False(t, ok, "input item must not be modified")
}

func TestExecuteNormalisesLineTerminators(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.Execute(context.Background(),
		minification.New(newContext("{}"), "testdata/multiply.js", "out/multiply.min.js"))
	require.NoError(t, err)

	code, _ := result.Result()
	assert.Equal(t, "var x=function(n,r){return n*r};", code)
}

func TestExecuteDecodesCharset(t *testing.T) {
	m := New()
	defer m.Close()

	ctx := newContext("{}")
	ctx.Charset = "ISO-8859-1"

	result, err := m.Execute(context.Background(), minification.New(ctx, "testdata/latin1.js", "out/latin1.min.js"))
	require.NoError(t, err)

	code, _ := result.Result()
	assert.Equal(t, `var s="éè";`, code)
}

func TestExecuteRejectsMalformedSource(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.Execute(context.Background(),
		minification.New(newContext("{}"), "testdata/latin1.js", "out/latin1.min.js"))
	require.Error(t, err)
	assert.True(t, minification.IsIOError(err), "unexpected error: %v", err)
	assert.Contains(t, err.Error(), "testdata/latin1.js")

	_, ok := result.Result()
	assert.False(t, ok)
}

func TestExecuteRelaxedOptions(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.Execute(context.Background(),
		minification.New(newContext("{sourceMap: true, compress: {passes: 2,},}"), "testdata/add.js", "out/add.min.js"))
	require.NoError(t, err)

	sourceMap, ok := result.SourceMap()
	require.True(t, ok)
	assert.Contains(t, sourceMap, `"version":3`)
	assert.Contains(t, sourceMap, `"secondaryLoaded":false`)
}

func TestExecuteLoadsSecondaryLibrary(t *testing.T) {
	m := New()
	defer m.Close()

	ctx := newContext("{sourceMap: true}")
	ctx.SourceMapSource = "testdata/source-map-stub.js"

	result, err := m.Execute(context.Background(), minification.New(ctx, "testdata/add.js", "out/add.min.js"))
	require.NoError(t, err)

	sourceMap, ok := result.SourceMap()
	require.True(t, ok)
	assert.Contains(t, sourceMap, `"secondaryLoaded":true`)
}

func TestExecuteObjectSourceMap(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.Execute(context.Background(),
		minification.New(newContext("{objectMap: true}"), "testdata/add.js", "out/add.min.js"))
	require.NoError(t, err)

	sourceMap, ok := result.SourceMap()
	require.True(t, ok)
	assert.JSONEq(t, `{"version":3,"mappings":""}`, sourceMap)
}

func TestExecuteDeferredResult(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.Execute(context.Background(),
		minification.New(newContext("{defer: 5}"), "testdata/add.js", "out/add.min.js"))
	require.NoError(t, err)

	code, _ := result.Result()
	assert.Equal(t, "function add(a,b){return a+b}", code)
}

func TestEngineReuse(t *testing.T) {
	m := New()
	defer m.Close()

	shared := newContext("{}")
	for _, src := range []string{"testdata/add.js", "testdata/multiply.js", "testdata/add.js"} {
		_, err := m.Execute(context.Background(), minification.New(shared, src, filepath.Join("out", src)))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), m.Stats().Builds)

	// An equal context built separately does not force a rebuild.
	_, err := m.Execute(context.Background(), minification.New(newContext("{}"), "testdata/add.js", "out/add.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Stats().Builds)

	// A different context does.
	verbose := newContext("{}")
	verbose.Verbose = true
	_, err = m.Execute(context.Background(), minification.New(verbose, "testdata/add.js", "out/add.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Stats().Builds)

	stats := m.Stats()
	assert.Equal(t, int64(5), stats.Executions)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name    string
		ctx     *minification.Context
		source  string
		check   func(error) bool
		message string
	}{
		{
			name:   "rejected promise",
			ctx:    newContext(`{fail: "boom"}`),
			source: "testdata/add.js",
			check:  minification.IsConversionError,
			message: "Error: boom",
		},
		{
			name:    "synchronous throw",
			ctx:     newContext(`{throwSync: "unexpected token"}`),
			source:  "testdata/add.js",
			check:   minification.IsConversionError,
			message: "SyntaxError: unexpected token",
		},
		{
			name:    "timer callback throws",
			ctx:     newContext(`{timerThrow: "parse failed in timer"}`),
			source:  "testdata/add.js",
			check:   minification.IsConversionError,
			message: "parse failed in timer",
		},
		{
			name:    "code is not a string",
			ctx:     newContext(`{badCode: true}`),
			source:  "testdata/add.js",
			check:   minification.IsConversionError,
			message: `{"code":42}`,
		},
		{
			name:    "never settles",
			ctx:     newContext(`{hang: true}`),
			source:  "testdata/add.js",
			check:   minification.IsConversionError,
			message: "pending",
		},
		{
			name:    "invalid options",
			ctx:     newContext(`{compress: `),
			source:  "testdata/add.js",
			check:   minification.IsConfigError,
			message: "testdata/add.js",
		},
		{
			name:    "empty options",
			ctx:     newContext(""),
			source:  "testdata/add.js",
			check:   minification.IsConfigError,
			message: "testdata/add.js",
		},
		{
			name:    "missing source",
			ctx:     newContext("{}"),
			source:  "testdata/missing.js",
			check:   func(err error) bool { return err != nil && !minification.IsConfigError(err) },
			message: "testdata/missing.js",
		},
		{
			name: "missing library",
			ctx: &minification.Context{
				TerserSource: "testdata/terser-missing.js",
				Options:      "{}",
			},
			source:  "testdata/add.js",
			check:   minification.IsConfigError,
			message: "terser-missing.js",
		},
		{
			name: "library fails to compile",
			ctx: &minification.Context{
				TerserSource: "testdata/broken.js",
				Options:      "{}",
			},
			source:  "testdata/add.js",
			check:   minification.IsEngineError,
			message: "broken.js",
		},
		{
			name: "library without minify",
			ctx: &minification.Context{
				TerserSource: "testdata/no-minify.js",
				Options:      "{}",
			},
			source:  "testdata/add.js",
			check:   minification.IsEngineError,
			message: "Terser.minify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			defer m.Close()

			item := minification.New(tt.ctx, tt.source, "out/x.js")
			result, err := m.Execute(context.Background(), item)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
			assert.Contains(t, err.Error(), tt.message)

			_, ok := result.Result()
			assert.False(t, ok)
			assert.Equal(t, int64(1), m.Stats().Failures)
		})
	}
}

func TestFailedBuildIsRetried(t *testing.T) {
	m := New()
	defer m.Close()

	broken := &minification.Context{TerserSource: "testdata/broken.js", Options: "{}"}
	_, err := m.Execute(context.Background(), minification.New(broken, "testdata/add.js", "out/add.js"))
	require.Error(t, err)
	assert.Equal(t, int64(0), m.Stats().Builds)

	_, err = m.Execute(context.Background(), minification.New(newContext("{}"), "testdata/add.js", "out/add.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Stats().Builds)
}

func TestTimeoutInterruptsSynchronousLoop(t *testing.T) {
	m := New(WithTimeout(100 * time.Millisecond))
	defer m.Close()

	start := time.Now()
	_, err := m.Execute(context.Background(),
		minification.New(newContext("{spin: true}"), "testdata/add.js", "out/add.js"))
	require.Error(t, err)
	assert.True(t, minification.IsTimeoutError(err), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The interrupted engine is discarded; the next item gets a fresh one.
	result, err := m.Execute(context.Background(),
		minification.New(newContext("{spin: true}"), "testdata/add.js", "out/add.js"))
	require.Error(t, err)
	_, ok := result.Result()
	assert.False(t, ok)

	result, err = m.Execute(context.Background(),
		minification.New(newContext("{}"), "testdata/add.js", "out/add.js"))
	require.NoError(t, err)
	code, _ := result.Result()
	assert.Equal(t, "function add(a,b){return a+b}", code)
	assert.Equal(t, int64(3), m.Stats().Builds)
}

func TestContextCancellationStopsWait(t *testing.T) {
	m := New()
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Execute(ctx, minification.New(newContext("{defer: 60000}"), "testdata/add.js", "out/add.js"))
	require.Error(t, err)
	assert.True(t, minification.IsTimeoutError(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New()

	_, err := m.Execute(context.Background(), minification.New(newContext("{}"), "testdata/add.js", "out/add.js"))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Execute(context.Background(), minification.New(newContext("{}"), "testdata/add.js", "out/add.js"))
	assert.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	out, err := parseOptions(`{mangle: false, compress: {drop_console: true}, "ecma": 2015,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mangle":false,"compress":{"drop_console":true},"ecma":2015}`, out)

	_, err = parseOptions("  ")
	assert.Error(t, err)

	_, err = parseOptions("[1, 2")
	assert.Error(t, err)
}
