package gateway

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Supervise runs fn inside the top-level error boundary. A panic escaping the
// per-request boundaries signals corrupted internal state that must not keep
// answering requests, so it is logged with full detail and returned as an
// error for the caller to exit non-zero on.
func Supervise(logger *slog.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unrecoverable failure",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("unrecoverable failure: %v", r)
		}
	}()
	return fn()
}
