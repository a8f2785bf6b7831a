package seisgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/seisgo/volume"
)

// Logger wraps slog.Logger with seisgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds a file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithShape adds a cube shape field to the logger.
func (l *Logger) WithShape(shape volume.Shape) *Logger {
	return &Logger{
		Logger: l.Logger.With("shape", shape.String()),
	}
}

// WithAxis adds an axis field to the logger.
func (l *Logger) WithAxis(axis volume.Axis) *Logger {
	return &Logger{
		Logger: l.Logger.With("axis", axis.String()),
	}
}

// LogOpen logs a cube open operation.
func (l *Logger) LogOpen(path string, shape volume.Shape, err error) {
	if err != nil {
		l.Error("open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("cube opened",
			"path", path,
			"shape", shape.String(),
		)
	}
}

// LogLoadCrop logs a crop load operation.
func (l *Logger) LogLoadCrop(ctx context.Context, loc volume.Location, err error) {
	if err != nil {
		l.ErrorContext(ctx, "crop load failed",
			"shape", loc.Shape().String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "crop loaded",
			"shape", loc.Shape().String(),
			"voxels", loc.Shape().Size(),
		)
	}
}

// LogLoadSlide logs a slide load operation. The axis is logged as given,
// before mnemonic resolution, so failures show the caller's input.
func (l *Logger) LogLoadSlide(ctx context.Context, axis any, index int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "slide load failed",
			"axis", axis,
			"index", index,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "slide loaded",
			"axis", axis,
			"index", index,
		)
	}
}

// LogStatistics logs a full statistics pass.
func (l *Logger) LogStatistics(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "statistics collection failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "statistics collected")
	}
}

// LogQuantizerFit logs a quantizer fit and its estimated error.
func (l *Logger) LogQuantizerFit(ctx context.Context, quantError float32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "quantizer fit failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "quantizer fitted",
			"quantization_error", quantError,
		)
	}
}

// LogConvert logs a container conversion.
func (l *Logger) LogConvert(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "conversion failed",
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "conversion completed",
			"path", path,
		)
	}
}
