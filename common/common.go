// Package common holds the small pieces every binary shares: the package
// name, the build version and logger setup.
package common

import (
	"log/slog"
	"os"
)

// PackageName tags metrics and logs emitted by this module's binaries.
const PackageName = "lockbox-recovery-protocol"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// JSON switches to the JSON handler for log collectors.
	JSON bool

	// Service is added as a "service" attribute when set.
	Service string

	// Version is added as a "version" attribute when set.
	Version string
}

// SetupLogger builds the process logger the way every binary in this
// module does it: slog to stderr, text for humans, JSON for collectors.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		logger = logger.With(slog.String("version", opts.Version))
	}
	return logger
}
