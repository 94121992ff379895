package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/terser/internal/procs"
	"github.com/wehubfusion/terser/pkg/minification"
	"github.com/wehubfusion/terser/pkg/minifier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Parallel runs a fixed number of workers, each with its own Executor, over a shared
// claim queue. Items sharing a context are processed by whichever worker claims them,
// so each worker builds its engine at most once per distinct context.
type Parallel struct {
	threads         int
	available       func() int
	factory         ExecutorFactory
	isolateFailures bool
	timeout         time.Duration
	logger          *zap.Logger
	tracer          trace.Tracer

	mu    sync.Mutex
	stats Stats
}

// Option configures a Parallel strategy.
type Option func(*Parallel)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parallel) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAvailableProcessors overrides how the processor count is determined.
func WithAvailableProcessors(available func() int) Option {
	return func(p *Parallel) {
		if available != nil {
			p.available = available
		}
	}
}

// WithMinifierFactory replaces the Executor created for each worker.
func WithMinifierFactory(factory ExecutorFactory) Option {
	return func(p *Parallel) {
		if factory != nil {
			p.factory = factory
		}
	}
}

// WithIsolateFailures keeps workers running after an item fails. Execute then returns
// the completed items together with the combined item errors.
func WithIsolateFailures(isolate bool) Option {
	return func(p *Parallel) {
		p.isolateFailures = isolate
	}
}

// WithTimeout bounds each item of the default executors.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Parallel) {
		p.timeout = timeout
	}
}

// WithTracer sets the tracer used for worker spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Parallel) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// NewParallel creates a strategy that requests the given number of workers.
// The number is clamped on each Execute, see ResolveThreads.
func NewParallel(threads int, opts ...Option) *Parallel {
	p := &Parallel{
		threads:   threads,
		available: procs.Available,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("terser/strategy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		p.factory = p.newMinifier
	}
	return p
}

func (p *Parallel) newMinifier(workerID int) Executor {
	return minifier.New(
		minifier.WithLogger(p.logger),
		minifier.WithTimeout(p.timeout),
		minifier.WithTracer(p.tracer),
		minifier.WithWorkerID(workerID),
	)
}

// Execute minifies every distinct item exactly once. Without failure isolation the
// first failing item cancels the other workers and no results are returned.
// The order of the returned items is unspecified.
func (p *Parallel) Execute(ctx context.Context, items []minification.Minification) ([]minification.Minification, error) {
	start := time.Now()
	threads := ResolveThreads(p.threads, p.available(), p.logger)

	items = minification.Dedupe(items)
	queue := newClaimQueue(items)

	p.logger.Debug("Starting minification workers",
		zap.Int("threads", threads),
		zap.Int("items", queue.len()))

	var (
		mu       sync.Mutex
		results  = make([]minification.Minification, 0, len(items))
		itemErrs error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		workerID := i
		g.Go(func() error {
			done, errs, err := p.worker(gctx, workerID, queue)

			mu.Lock()
			results = append(results, done...)
			itemErrs = multierr.Append(itemErrs, errs)
			mu.Unlock()

			return err
		})
	}

	err := g.Wait()

	stats := Stats{
		Threads:   threads,
		Processed: len(results),
		Failed:    len(multierr.Errors(itemErrs)),
		Duration:  time.Since(start),
	}
	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Parallel minification failed", zap.Error(err))
		return nil, fmt.Errorf("parallel minification failed: %w", err)
	}
	if itemErrs != nil {
		p.logger.Warn("Some minifications failed",
			zap.Int("failed", stats.Failed),
			zap.Int("succeeded", stats.Processed))
		return results, fmt.Errorf("parallel minification failed for %d item(s): %w", stats.Failed, itemErrs)
	}

	p.logger.Debug("Minification workers finished",
		zap.Int("processed", stats.Processed),
		zap.Duration("duration", stats.Duration))
	return results, nil
}

// worker drains the queue with its own Executor. It returns the completed items,
// the item errors kept under failure isolation, and an error that stops the batch.
func (p *Parallel) worker(ctx context.Context, id int, queue *claimQueue) (done []minification.Minification, itemErrs error, err error) {
	ctx, span := p.tracer.Start(ctx, "strategy.worker", trace.WithAttributes(attribute.Int("worker.id", id)))
	defer func() {
		span.SetAttributes(attribute.Int("worker.processed", len(done)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	executor := p.factory(id)
	defer func() {
		if cerr := executor.Close(); cerr != nil {
			p.logger.Warn("Failed to close minifier", zap.Int("workerID", id), zap.Error(cerr))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return done, itemErrs, err
		}

		item, ok := queue.poll()
		if !ok {
			return done, itemErrs, nil
		}

		result, err := executor.Execute(ctx, item)
		if err != nil {
			if !p.isolateFailures {
				return done, itemErrs, err
			}
			p.logger.Warn("Minification failed",
				zap.Int("workerID", id),
				zap.String("source", item.Source),
				zap.Error(err))
			itemErrs = multierr.Append(itemErrs, fmt.Errorf("%s: %w", item.Source, err))
			continue
		}

		done = append(done, result)
	}
}

// Stats describes the last Execute call.
type Stats struct {
	Threads   int           `json:"threads"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Stats returns the statistics of the last Execute call.
func (p *Parallel) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

var _ Strategy = (*Parallel)(nil)
