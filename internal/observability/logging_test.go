package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithFallback_NilReturnsNoop(t *testing.T) {
	logger := WithFallback(nil)
	assert.NotNil(t, logger)
	// Should not panic even though it's a no-op sink.
	logger.Info("hello")
}

func TestWithFallback_PassesThroughNonNil(t *testing.T) {
	logger := NewLogger()
	assert.Same(t, logger, WithFallback(logger))
}

func TestNewLogger_NeverReturnsNil(t *testing.T) {
	assert.NotNil(t, NewLogger())
}
