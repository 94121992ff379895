// Package strategy distributes minifications across a bounded pool of workers.
package strategy

import (
	"context"

	"github.com/wehubfusion/terser/pkg/minification"
)

// Strategy minifies a batch of items and returns the completed items.
type Strategy interface {
	Execute(ctx context.Context, items []minification.Minification) ([]minification.Minification, error)
}

// Executor minifies one item at a time. Each worker owns exactly one Executor,
// so implementations need not be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, item minification.Minification) (minification.Minification, error)
	Close() error
}

// ExecutorFactory creates the Executor for a worker.
type ExecutorFactory func(workerID int) Executor
