package strategy

import (
	"fmt"

	"go.uber.org/zap"
)

// ResolveThreads clamps the requested worker count to [1, available].
func ResolveThreads(requested, available int, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if available < 1 {
		available = 1
	}

	if requested < 1 {
		logger.Warn(fmt.Sprintf("Invalid number of threads (%d). Setting number of threads to 1", requested))
		return 1
	}
	if requested > available {
		logger.Warn(fmt.Sprintf(
			"Configured number of threads (%d) exceeds the number of available processors (%d), setting number of threads to %d",
			requested, available, available))
		return available
	}

	return requested
}
