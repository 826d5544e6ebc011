package safego

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Go launches fn in a goroutine with panic recovery. A panic is logged
// with the goroutine name and stack instead of crashing the process.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine panic",
						zap.String("goroutine", name),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())))
				}
			}
		}()
		fn()
	}()
}

// Loop runs fn on a fixed interval until ctx is cancelled. Each tick is
// individually panic-protected so one bad iteration does not stop the loop.
func Loop(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runProtected(logger, name, fn)
			}
		}
	}()
}

func runProtected(logger *zap.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("loop iteration panic",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
			}
		}
	}()
	fn()
}
