package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/terser/pkg/minification"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var terserStub, _ = filepath.Abs("../minifier/testdata/terser-stub.js")

type recordingNotifier struct {
	reports []Report
}

func (n *recordingNotifier) Notify(_ context.Context, report Report) error {
	n.reports = append(n.reports, report)
	return nil
}

// stubStrategy returns fixed results instead of running an engine.
type stubStrategy struct {
	results []minification.Minification
	err     error
	seen    []minification.Minification
}

func (s *stubStrategy) Execute(_ context.Context, items []minification.Minification) ([]minification.Minification, error) {
	s.seen = items
	return s.results, s.err
}

func newProject(t *testing.T, files map[string]string) Config {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, "src", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	cfg := DefaultConfig()
	cfg.TerserSource = terserStub
	cfg.SourceDir = filepath.Join(root, "src")
	cfg.TargetDir = filepath.Join(root, "target")
	return cfg
}

func TestRunMinifiesAndWrites(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"add.js":        "function add(a, b) {\n  return a + b;\n}\n",
		"lib/mul.js":    "var x = function(n, r) { return n * r; };",
		"lib/ignore.ts": "let a: number = 1;",
	})
	cfg.Threads = 2
	cfg.Includes = []string{"**/*.js"}

	notifier := &recordingNotifier{}
	report, err := NewRunner(cfg, WithNotifier(notifier)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, 0, report.Maps)
	assert.NotEmpty(t, report.BatchID.String())

	data, err := os.ReadFile(filepath.Join(cfg.TargetDir, "add.min.js"))
	require.NoError(t, err)
	assert.Equal(t, "function add(a,b){return a+b}", string(data))

	data, err = os.ReadFile(filepath.Join(cfg.TargetDir, "lib", "mul.min.js"))
	require.NoError(t, err)
	assert.Equal(t, "var x=function(n,r){return n*r};", string(data))

	require.Len(t, notifier.reports, 1)
	assert.NoError(t, notifier.reports[0].Err)
	assert.Equal(t, report.BatchID, notifier.reports[0].BatchID)
}

func TestRunWritesSourceMaps(t *testing.T) {
	cfg := newProject(t, map[string]string{"add.js": "function add(a, b) { return a + b; }"})
	cfg.Files = []string{"/add.js"}
	cfg.Options = "{sourceMap: true}"

	report, err := NewRunner(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Maps)

	_, err = os.Stat(filepath.Join(cfg.TargetDir, "add.min.js.map"))
	assert.NoError(t, err)
}

func TestRunConfigurationErrors(t *testing.T) {
	cfg := newProject(t, map[string]string{"add.js": "var a = 1;"})
	cfg.Files = []string{"add.js"}

	unreachable := cfg
	unreachable.TerserSource = filepath.Join(t.TempDir(), "missing.js")
	_, err := NewRunner(unreachable).Run(context.Background())
	assert.ErrorIs(t, err, ErrTerserNotReachable)

	directory := cfg
	directory.TerserSource = t.TempDir()
	_, err = NewRunner(directory).Run(context.Background())
	assert.ErrorIs(t, err, ErrTerserNotReachable)

	noOptions := cfg
	noOptions.Options = ""
	_, err = NewRunner(noOptions).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoOptions)

	badEncoding := cfg
	badEncoding.Encoding = "no-such-charset"
	_, err = NewRunner(badEncoding).Run(context.Background())
	assert.Error(t, err)
}

func TestRunNothingToDo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := newProject(t, map[string]string{"add.js": "var a = 1;"})

	strat := &stubStrategy{}
	report, err := NewRunner(cfg, WithLogger(zap.New(core)), WithStrategy(strat)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Nil(t, strat.seen)
	assert.Equal(t, 1, logs.FilterMessage("No source files provided, nothing to do.").Len())

	cfg.Includes = []string{"**/*.coffee"}
	report, err = NewRunner(cfg, WithLogger(zap.New(core)), WithStrategy(strat)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Equal(t, 1, logs.FilterMessage("No files found to minify.").Len())
}

func TestRunMinificationFailure(t *testing.T) {
	cfg := newProject(t, map[string]string{"add.js": "var a = 1;"})
	cfg.Files = []string{"add.js"}
	cfg.Options = `{fail: "boom"}`

	notifier := &recordingNotifier{}
	_, err := NewRunner(cfg, WithNotifier(notifier)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on Terser minification execution")
	assert.True(t, minification.IsConversionError(err))

	require.Len(t, notifier.reports, 1)
	assert.Error(t, notifier.reports[0].Err)

	_, statErr := os.Stat(filepath.Join(cfg.TargetDir, "add.min.js"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunIsolatedFailuresWritesSuccesses(t *testing.T) {
	cfg := newProject(t, map[string]string{"a.js": "var a = 1;", "b.js": "var b = 2;"})
	cfg.Includes = []string{"*.js"}
	cfg.IsolateFailures = true

	ctx := cfg.Context()
	ok := minification.New(ctx, filepath.Join(cfg.SourceDir, "a.js"), filepath.Join(cfg.TargetDir, "a.min.js")).WithResult("var a=1;")
	strat := &stubStrategy{results: []minification.Minification{ok}, err: errors.New("b.js: rejected")}

	report, err := NewRunner(cfg, WithStrategy(strat)).Run(context.Background())
	require.Error(t, err)
	assert.Len(t, strat.seen, 2)
	assert.Equal(t, 1, report.Written)

	data, err := os.ReadFile(filepath.Join(cfg.TargetDir, "a.min.js"))
	require.NoError(t, err)
	assert.Equal(t, "var a=1;", string(data))
}

func TestRunItemWithoutResultFails(t *testing.T) {
	cfg := newProject(t, map[string]string{"a.js": "var a = 1;"})
	cfg.Files = []string{"a.js"}

	broken := minification.New(cfg.Context(), "a.js", filepath.Join(cfg.TargetDir, "a.min.js"))
	_, err := NewRunner(cfg, WithStrategy(&stubStrategy{results: []minification.Minification{broken}})).Run(context.Background())
	assert.ErrorIs(t, err, minification.ErrNoResult)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Threads)
	assert.Equal(t, "min", cfg.Suffix)
	assert.Equal(t, "{}", cfg.Options)
	assert.Equal(t, "UTF-8", cfg.Encoding)

	var empty Config
	empty.ApplyDefaults()
	assert.Equal(t, "UTF-8", empty.Encoding)
	assert.Equal(t, "", empty.Options)
}
