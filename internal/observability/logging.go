package observability

import "go.uber.org/zap"

// NewLogger builds a zap logger the way the teacher's internal/errors/logging.go
// sets one up: a production logger with the error-output sampling disabled so
// that retry storms don't silently drop log lines, falling back to a no-op
// logger if construction fails (this driver must never panic from logging
// setup — a caller embedding it in their own process shouldn't lose control).
func NewLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// WithFallback returns logger if non-nil, otherwise a no-op logger. Every
// subsystem constructor accepts an optional *zap.Logger and routes it through
// this helper so nil is always a safe default.
func WithFallback(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
