// Package batch discovers, minifies and writes a set of JavaScript files.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/terser/pkg/discovery"
	"github.com/wehubfusion/terser/pkg/strategy"
	"github.com/wehubfusion/terser/pkg/writer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier receives the report of every finished batch.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// Report describes a finished batch.
type Report struct {
	BatchID  uuid.UUID
	Files    int
	Written  int
	Maps     int
	Threads  int
	Duration time.Duration
	Err      error
}

// Runner executes batches for one configuration.
type Runner struct {
	config   Config
	strategy strategy.Strategy
	writer   *writer.Writer
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStrategy replaces the parallel strategy built from the configuration.
func WithStrategy(s strategy.Strategy) Option {
	return func(r *Runner) {
		r.strategy = s
	}
}

// WithWriter replaces the file system writer.
func WithWriter(w *writer.Writer) Option {
	return func(r *Runner) {
		r.writer = w
	}
}

// WithNotifier publishes a report after each batch.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewRunner creates a Runner. The configuration is validated on every Run.
func NewRunner(cfg Config, opts ...Option) *Runner {
	cfg.ApplyDefaults()

	r := &Runner{
		config: cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer("terser/batch"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.strategy == nil {
		r.strategy = strategy.NewParallel(cfg.Threads,
			strategy.WithLogger(r.logger),
			strategy.WithTracer(r.tracer),
			strategy.WithTimeout(cfg.Timeout),
			strategy.WithIsolateFailures(cfg.IsolateFailures))
	}
	if r.writer == nil {
		r.writer = writer.New(writer.FileSink{}, r.logger)
	}
	return r
}

// Run minifies every selected file and writes the results. Configuration errors are
// returned before any work starts; an empty selection is not an error.
func (r *Runner) Run(ctx context.Context) (report Report, err error) {
	start := time.Now()
	report = Report{BatchID: uuid.New()}

	ctx, span := r.tracer.Start(ctx, "batch.Run",
		trace.WithAttributes(attribute.String("batch.id", report.BatchID.String())))
	defer func() {
		report.Duration = time.Since(start)
		report.Err = err
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("batch.files", report.Files),
			attribute.Int("batch.written", report.Written))
		span.End()
	}()

	cfg := r.config
	logger := r.logger.With(zap.String("batchId", report.BatchID.String()))

	if cfg.Verbose {
		logger.Info("Run in the verbose mode.")
		logger.Info(fmt.Sprintf("Charset: %s.", cfg.Encoding))
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.String("terserSource", cfg.TerserSource), zap.Error(err))
		return report, err
	}

	selection := cfg.Discovery()
	if selection.Empty() {
		logger.Warn("No source files provided, nothing to do.")
		return report, nil
	}

	items, err := discovery.Discover(selection, cfg.Context())
	if err != nil {
		return report, fmt.Errorf("failed to discover source files: %w", err)
	}
	if len(items) == 0 {
		logger.Info("No files found to minify.")
		return report, nil
	}
	report.Files = len(items)

	if cfg.Verbose {
		logger.Info(fmt.Sprintf("Found %d files to minify.", len(items)))
	}

	results, runErr := r.strategy.Execute(ctx, items)
	if p, ok := r.strategy.(*strategy.Parallel); ok {
		report.Threads = p.Stats().Threads
	}
	if runErr != nil && (!cfg.IsolateFailures || len(results) == 0) {
		r.notify(ctx, report, start, runErr)
		return report, fmt.Errorf("failed on Terser minification execution: %w", runErr)
	}

	for _, item := range results {
		wroteMap, err := r.writer.WriteAll(ctx, item)
		if err != nil {
			r.notify(ctx, report, start, err)
			return report, fmt.Errorf("failed on Terser minification execution: %w", err)
		}
		report.Written++
		if wroteMap {
			report.Maps++
		}
	}

	if runErr != nil {
		r.notify(ctx, report, start, runErr)
		return report, fmt.Errorf("failed on Terser minification execution: %w", runErr)
	}

	logger.Info("Terser minification execution successful.",
		zap.Int("files", report.Written),
		zap.Int("maps", report.Maps))
	r.notify(ctx, report, start, nil)
	return report, nil
}

func (r *Runner) notify(ctx context.Context, report Report, start time.Time, err error) {
	if r.notifier == nil {
		return
	}
	report.Duration = time.Since(start)
	report.Err = err
	if nerr := r.notifier.Notify(ctx, report); nerr != nil {
		r.logger.Warn("Failed to publish batch report", zap.Error(nerr))
	}
}
