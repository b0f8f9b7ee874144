package rumpxen

import (
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// pkgLogger is the package-level structured logger, in the style of
// eventloop's globalLogger: a swappable singleton so the scheduler and
// bridge, which are free-standing values rather than a single owning
// struct, can share one sink without threading a logger through every
// call. Defaults to NewDefaultLogger(logiface.LevelError): a stumpy
// logger writing to stderr, so BUG diagnostics are printed even in a
// program that never configures logging.
var pkgLogger struct {
	sync.RWMutex
	l *logiface.Logger[*stumpy.Event]
}

func init() {
	pkgLogger.l = NewDefaultLogger(logiface.LevelError)
}

// SetLogger installs the package-level structured logger. The only
// entries this package writes are BUG fatal-abort diagnostics (see
// bugf); thread lifecycle, join ordering, timer fires and submit/poll/
// completion events are not logged. Safe to call concurrently; takes
// effect for subsequent log calls only.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	pkgLogger.Lock()
	defer pkgLogger.Unlock()
	pkgLogger.l = l
}

// NewDefaultLogger builds a stumpy-backed JSON logger writing to stderr
// at the given minimum level, mirroring eventloop.NewDefaultLogger's shape
// but wired to the real logiface/stumpy stack instead of a hand-rolled
// writer.
func NewDefaultLogger(level logiface.Level) *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	)
}

func logger() *logiface.Logger[*stumpy.Event] {
	pkgLogger.RLock()
	defer pkgLogger.RUnlock()
	return pkgLogger.l
}
