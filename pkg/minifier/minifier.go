// Package minifier runs the Terser library inside an embedded JavaScript engine.
//
// A Minifier keeps at most one engine alive and rebuilds it only when an item arrives
// with a configuration different from the one the engine was built for. Loading the
// library dominates the cost of a minification, so one Minifier should process as many
// items of a batch as possible. A Minifier must only be used from one goroutine.
package minifier

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wehubfusion/terser/pkg/minification"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Minifier owns a single cached engine keyed by the minification context.
type Minifier struct {
	context  *minification.Context
	engine   *engine
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	workerID int
	closed   bool

	builds     atomic.Int64
	executions atomic.Int64
	failures   atomic.Int64
}

// Option configures a Minifier.
type Option func(*Minifier)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Minifier) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTimeout bounds the wait for a single item. Zero waits until the context is done.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Minifier) {
		m.timeout = timeout
	}
}

// WithTracer sets the tracer used for engine and item spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Minifier) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithWorkerID tags log entries with the owning worker.
func WithWorkerID(id int) Option {
	return func(m *Minifier) {
		m.workerID = id
	}
}

// New creates a Minifier without an engine; the engine is built on first use.
func New(opts ...Option) *Minifier {
	m := &Minifier{
		logger: zap.NewNop(),
		tracer: otel.Tracer("terser/minifier"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.Int("workerID", m.workerID))
	return m
}

// Execute minifies item and returns a copy carrying the result.
// The input is never modified. Execute must not be called concurrently.
func (m *Minifier) Execute(ctx context.Context, item minification.Minification) (result minification.Minification, err error) {
	if m.closed {
		return item, fmt.Errorf("minifier is closed")
	}
	if item.Context == nil {
		return item, minification.NewConfigError(item.Source, "minification has no context", nil)
	}

	ctx, span := m.tracer.Start(ctx, "minifier.Execute",
		trace.WithAttributes(
			attribute.Int("worker.id", m.workerID),
			attribute.String("minification.source", item.Source),
			attribute.String("minification.target", item.Target),
		))
	defer func() {
		m.executions.Add(1)
		if err != nil {
			m.failures.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := m.initialize(ctx, item.Context); err != nil {
		return item, err
	}

	if item.Context.Verbose {
		m.logger.Info(fmt.Sprintf("Minifying %s -> %s", item.Source, item.Target))
	}

	source, err := readSource(item.Source, item.Context.CharsetName())
	if err != nil {
		return item, err
	}

	options, err := parseOptions(item.Context.Options)
	if err != nil {
		return item, minification.NewConfigError(item.Source, "invalid options", err)
	}

	out, err := m.run(ctx, item.Source, source, options)
	if err != nil {
		return item, err
	}

	if ce := m.logger.Check(zap.DebugLevel, "minification result"); ce != nil {
		ce.Write(zap.String("target", item.Target), zap.String("code", out.code))
	}

	result = item.WithResult(out.code)
	if out.hasMap {
		result = result.WithSourceMap(out.sourceMap)
	}

	return result, nil
}

// initialize builds the engine when none exists or ctx differs from the cached context.
func (m *Minifier) initialize(ctx context.Context, mctx *minification.Context) error {
	if m.engine != nil && m.context.Equal(mctx) {
		return nil
	}

	_, span := m.tracer.Start(ctx, "minifier.initialize",
		trace.WithAttributes(attribute.String("terser.source", mctx.TerserSource)))
	defer span.End()

	m.release()

	m.logger.Debug("Initializing script engine",
		zap.String("terserSource", mctx.TerserSource),
		zap.String("sourceMapSource", mctx.SourceMapSource))

	start := time.Now()
	e, err := newEngine(mctx, m.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.engine = e
	m.context = mctx
	m.builds.Add(1)

	m.logger.Debug("Initialized script engine", zap.Duration("duration", time.Since(start)))
	return nil
}

// run calls the library and waits for its deferred result. A timed out or
// interrupted engine is released so the next item gets a fresh one.
func (m *Minifier) run(ctx context.Context, source, code, options string) (out output, err error) {
	e := m.engine
	var interrupted atomic.Bool

	defer func() {
		if r := recover(); r != nil {
			err = minification.NewEngineError(fmt.Sprintf("panic during minification of %s: %v", source, r), nil)
			interrupted.Store(true)
		}
		if interrupted.Load() || minification.IsTimeoutError(err) {
			m.logger.Debug("Discarding script engine", zap.String("source", source))
			m.release()
		}
	}()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	// Interrupts JavaScript that runs synchronously on this goroutine.
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			e.interrupt("minification timeout")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	return awaitResult(ctx, e, source, code, options)
}

// release discards the current engine and forgets the cached context.
func (m *Minifier) release() {
	if m.engine != nil {
		m.engine.close()
		m.engine = nil
	}
	m.context = nil
}

// Close releases the engine. Closing twice is a no-op.
func (m *Minifier) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.release()
	return nil
}

// Stats contains counters of a Minifier
type Stats struct {
	Builds     int64 `json:"builds"`
	Executions int64 `json:"executions"`
	Failures   int64 `json:"failures"`
}

// Stats returns the engine build and execution counters.
func (m *Minifier) Stats() Stats {
	return Stats{
		Builds:     m.builds.Load(),
		Executions: m.executions.Load(),
		Failures:   m.failures.Load(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("Minifier Stats: Builds=%d, Executions=%d, Failures=%d", s.Builds, s.Executions, s.Failures)
}
