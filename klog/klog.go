// Package klog is the kernel's structured logger, grounded on a direct
// package-level use of github.com/sirupsen/logrus (see
// utils/pidfile.go's logrus.Infof and pidmonitor/pidmon_test.go's
// log.SetLevel(log.DebugLevel)).
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts verbosity; tests typically raise it to TraceLevel to
// observe MDB/scheduler internals.
func SetLevel(level logrus.Level) { log.SetLevel(level) }

// Tracef logs scheduler/MDB diagnostics (run-queue transitions, MDB splices)
// that are only interesting when debugging the core itself.
func Tracef(format string, args ...interface{}) { log.Tracef(format, args...) }

// Debugf logs recoverable syscall errors and lookup faults on their way
// back to user space.
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }

// Infof logs boot-time milestones (region carved, cap installed).
func Infof(format string, args ...interface{}) { log.Infof(format, args...) }

// haltFn is called by Fatalf. It defaults to logrus's Fatal (which exits the
// process) but tests override it so a simulated kernel bug can be observed
// instead of killing the test binary.
var haltFn = func(args ...interface{}) { log.Fatal(args...) }

// SetHaltFunc overrides the halt behavior invoked by Fatalf; used by tests
// that exercise an unrecoverable-condition path.
func SetHaltFunc(f func(args ...interface{})) { haltFn = f }

// Fatalf logs an unrecoverable kernel-bug condition (an assertion
// failure, not a user error) and halts the kernel.
func Fatalf(format string, args ...interface{}) {
	log.Errorf(format, args...)
	haltFn(log.WithField("fatal", true))
}
