// Package procs reports the processor budget and resource usage of the process.
package procs

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Initialize sets GOMAXPROCS to the container CPU quota. It should be called at the
// very start of main. The returned function restores the previous value.
func Initialize(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Debug("Concurrency initialized",
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
		zap.Bool("kubernetes", IsKubernetes()))
	return undo
}

// Available returns the number of processors usable by the process.
func Available() int {
	return runtime.GOMAXPROCS(0)
}

// IsKubernetes detects if the process runs in a Kubernetes pod.
func IsKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// Usage is a snapshot of the resources used by the process.
type Usage struct {
	RSSBytes   uint64
	CPUPercent float64
	Goroutines int
}

func (u Usage) String() string {
	return fmt.Sprintf("cpu: %.2f%%, memory: %.2fmb, goroutines: %d",
		u.CPUPercent, float64(u.RSSBytes)/1024/1024, u.Goroutines)
}

// CurrentUsage samples the current process.
func CurrentUsage() (Usage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to inspect process: %w", err)
	}

	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	return Usage{
		RSSBytes:   mem.RSS,
		CPUPercent: cpu,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}
