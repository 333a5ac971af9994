// Package logging builds the zap loggers used by the CLI and tests.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Options selects the logger shape.
type Options struct {
	// Level is a zap level name: debug, info, warn, error. Empty means info.
	Level string
	// Development switches to the console encoder with caller and
	// stacktraces on warnings.
	Development bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logger writing to opts.Output.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	sink := zapcore.Lock(zapcore.AddSync(out))

	if opts.Development {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			sink,
			level,
		)
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel)), nil
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), sink, level)
	return zap.New(core, zap.AddStacktrace(zap.ErrorLevel)), nil
}

// Observed returns a logger that records entries at level and above in
// memory, for assertions in tests.
func Observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}
