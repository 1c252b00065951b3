package memutils

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// FatalHook receives conditions that leave a refcounted block in an unrecoverable state: allocation
// failure, refcount overflow, size overflow, and slice length mismatch. A hook should not return.
// If it does, Fatal panics with the error so that the calling goroutine still does not continue.
type FatalHook func(err error)

// FatalExitCode is the process exit code used by the default hook
const FatalExitCode = 134

var fatalHook atomic.Pointer[FatalHook]

func defaultFatalHook(err error) {
	slog.Default().LogAttrs(context.Background(), slog.LevelError, "[FATAL] unrecoverable memory error",
		slog.String("error", fmt.Sprintf("%+v", err)),
	)
	os.Exit(FatalExitCode)
}

// SetFatalHook replaces the process-wide fatal hook and returns the previous one. Passing nil restores
// the default behavior, which logs the error and terminates the process.
func SetFatalHook(hook FatalHook) FatalHook {
	var old *FatalHook
	if hook == nil {
		old = fatalHook.Swap(nil)
	} else {
		old = fatalHook.Swap(&hook)
	}

	if old == nil {
		return defaultFatalHook
	}
	return *old
}

// Fatal reports err to the installed fatal hook. It never returns normally.
func Fatal(err error) {
	hook := fatalHook.Load()
	if hook == nil {
		defaultFatalHook(err)
	} else {
		(*hook)(err)
	}

	panic(err)
}

// Fatalf wraps cause with a formatted message and reports it to the fatal hook
func Fatalf(cause error, format string, args ...any) {
	Fatal(cerrors.Wrapf(cause, format, args...))
}
