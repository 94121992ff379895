// Package writer persists completed minifications.
package writer

import (
	"context"
	"fmt"

	"github.com/wehubfusion/terser/pkg/charset"
	"github.com/wehubfusion/terser/pkg/minification"
	"go.uber.org/zap"
)

// ErrNoResult is returned when an item without a result reaches the writer.
var ErrNoResult = minification.ErrNoResult

// Writer writes results and source maps of minifications to a Sink.
type Writer struct {
	sink   Sink
	logger *zap.Logger
}

// New creates a Writer. A nil sink writes to the local file system.
func New(sink Sink, logger *zap.Logger) *Writer {
	if sink == nil {
		sink = FileSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sink: sink, logger: logger}
}

// WriteTarget writes the result of m to its target, encoded in the item's charset.
func (w *Writer) WriteTarget(ctx context.Context, m minification.Minification) error {
	code, ok := m.Result()
	if !ok {
		return fmt.Errorf("%s: %w", m.Source, ErrNoResult)
	}
	return w.write(ctx, m, m.Target, code)
}

// WriteMap writes the source map of m next to its target. Items without a map are skipped.
func (w *Writer) WriteMap(ctx context.Context, m minification.Minification) error {
	sourceMap, ok := m.SourceMap()
	if !ok {
		return nil
	}
	return w.write(ctx, m, m.MapPath(), sourceMap)
}

// WriteAll writes the target and, when present, the source map. It reports
// whether a map was written.
func (w *Writer) WriteAll(ctx context.Context, m minification.Minification) (bool, error) {
	if err := w.WriteTarget(ctx, m); err != nil {
		return false, err
	}
	if !m.HasSourceMap() {
		return false, nil
	}
	if err := w.WriteMap(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) write(ctx context.Context, m minification.Minification, path, text string) error {
	name := minification.DefaultCharset
	if m.Context != nil {
		name = m.Context.CharsetName()
	}

	data, err := charset.Encode(name, text)
	if err != nil {
		return minification.NewIOError(path, err)
	}
	if err := w.sink.Write(ctx, path, data); err != nil {
		return minification.NewIOError(path, err)
	}

	w.logger.Debug("Wrote file", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
