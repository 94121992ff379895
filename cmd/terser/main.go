// Command terser minifies JavaScript files with Terser running in an embedded engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/terser/internal/procs"
	"github.com/wehubfusion/terser/internal/tracing"
	"github.com/wehubfusion/terser/pkg/batch"
	"github.com/wehubfusion/terser/pkg/notify"
	"github.com/wehubfusion/terser/pkg/writer"
	"go.uber.org/zap"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the exit code so that deferred cleanup runs before exiting.
func realMain(args []string, stderr io.Writer) int {
	opts, err := loadOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger := newLogger(opts.Batch.Verbose)
	defer logger.Sync()

	undo := procs.Initialize(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("Terser minification failed", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(verbose bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// run wires the optional integrations around a batch runner and runs it once, or
// repeatedly in watch mode.
func run(ctx context.Context, opts *options, logger *zap.Logger) error {
	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN}); err != nil {
			logger.Warn("Failed to initialize Sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	tcfg := tracing.DefaultConfig("terser")
	tcfg.Endpoint = opts.OTLPEndpoint
	shutdown, err := tracing.Setup(ctx, tcfg, logger)
	if err != nil {
		return err
	}
	defer tracing.Shutdown(shutdown, logger)

	runnerOpts := []batch.Option{batch.WithLogger(logger)}

	if opts.BlobConnection != "" {
		sink, err := writer.NewBlobSink(opts.BlobConnection, opts.BlobContainer, opts.Batch.TargetDir, logger)
		if err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, batch.WithWriter(writer.New(sink, logger)))
	}

	if opts.NATSURL != "" {
		conn, err := notify.Connect(ctx, notify.DefaultConnectionConfig(opts.NATSURL), logger)
		if err != nil {
			return err
		}
		defer notify.Close(conn)
		runnerOpts = append(runnerOpts, batch.WithNotifier(notify.NewNATSNotifier(conn, opts.NATSSubject, logger)))
	}

	runner := batch.NewRunner(opts.Batch, runnerOpts...)

	once := func(ctx context.Context) error {
		report, err := runner.Run(ctx)
		if err != nil {
			sentry.CaptureException(err)
		}
		if opts.Batch.Verbose {
			logUsage(logger, report)
		}
		return err
	}

	if !opts.Watch {
		return once(ctx)
	}

	if err := once(ctx); err != nil {
		logger.Error("Terser minification failed", zap.Error(err))
	}
	return watch(ctx, opts.Batch.SourceDir, watchIgnore(opts), logger, func(ctx context.Context) {
		if err := once(ctx); err != nil {
			logger.Error("Terser minification failed", zap.Error(err))
		}
	})
}

// watchIgnore returns the local directory the batch writes to, if any.
func watchIgnore(opts *options) string {
	if opts.BlobConnection != "" {
		return ""
	}
	return opts.Batch.TargetDir
}

func logUsage(logger *zap.Logger, report batch.Report) {
	usage, err := procs.CurrentUsage()
	if err != nil {
		logger.Debug("Failed to read resource usage", zap.Error(err))
		return
	}
	logger.Info("Batch finished",
		zap.String("batchId", report.BatchID.String()),
		zap.Int("files", report.Written),
		zap.Duration("duration", report.Duration),
		zap.Int("threads", report.Threads),
		zap.Uint64("rssBytes", usage.RSSBytes),
		zap.Int("goroutines", usage.Goroutines))
}
