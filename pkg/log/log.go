package log

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// GetLogger returns a stdr.Logger that implements the logr.Logger interface
// and sets the verbosity of the returned logger.
// set v to 0 for info level messages,
// 1 for debug messages and 2 for trace level message.
// any other verbosity level will default to 0.
func GetLogger(v int) logr.Logger {
	logger := stdr.New(nil).WithName("apsi")
	// bound check
	if v > 2 || v < 0 {
		v = 0
		logger.Info("Invalid verbosity, setting logger to display info level messages only.")
	}
	stdr.SetVerbosity(v)

	return logger
}

// ContextWithLogger returns a context that has a logr.Logger contained inside,
// which can then be used by the sender and receiver operations.
func ContextWithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// GetLoggerFromContextWithName returns a logr.Logger if it was contained in the context
// otherwise, it returns a discarding logger.
func GetLoggerFromContextWithName(ctx context.Context, name string) logr.Logger {
	logger := logr.FromContextOrDiscard(ctx)
	if name != "" {
		return logger.WithName(name)
	}

	return logger
}

// StageStats logs the elapsed time of a protocol stage and of the whole
// operation, along with the memory used since the last stage, and returns
// the new reference time and memory reading.
func StageStats(logger logr.Logger, stage string, timer, start time.Time, mem uint64) (time.Time, uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	now := time.Now()
	logger.V(2).Info("stage stats", "stage", stage,
		"stage time", now.Sub(timer).String(),
		"total time", now.Sub(start).String(),
		"memory (MiB)", math.Round(float64(m.Sys-mem)*100/(1024*1024))/100)

	return now, m.Sys
}
