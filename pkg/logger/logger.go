// Package logger holds the process-wide zap logger. Packages log through
// logger.Log; binaries call Init once at startup. Before Init the logger
// is a nop, which keeps library code and tests quiet by default.
package logger

import (
	"go.uber.org/zap"
)

var Log = zap.NewNop()

// Init replaces the global logger. debug switches to the development
// config (console encoder, debug level).
func Init(service string, debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l.With(zap.String("service", service))
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() {
	_ = Log.Sync()
}
