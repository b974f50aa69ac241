package log

import (
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"codescan/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	closer      io.Closer
)

// Setup installs the charmbracelet logger as the slog default handler.
// debug forces the debug level regardless of CODESCAN_LOG_LEVEL.
func Setup(debug bool) {
	initOnce.Do(func() {
		lg := logging.NewLogger()
		if debug || logging.IsDebug() {
			lg.SetLevel(charmlog.DebugLevel)
			lg.SetReportCaller(true)
		}
		closer = lg

		slog.SetDefault(slog.New(lg.Logger))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Close flushes and closes the log file, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
