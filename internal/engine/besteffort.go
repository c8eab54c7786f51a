package engine

import "go.uber.org/zap"

// tryBestEffort runs an operation whose failure must never propagate:
// broadcasts, cache writes, event publishes. The error is logged and
// swallowed so the contract stays in one place instead of scattered
// recover/ignore blocks.
func tryBestEffort(logger *zap.Logger, op string, fn func() error, fields ...zap.Field) {
	if err := fn(); err != nil {
		logger.Warn("best-effort operation failed",
			append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...)
	}
}
