package remote

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string       { return e.code }
func (e *fakeAPIError) ErrorCode() string   { return e.code }
func (e *fakeAPIError) ErrorMessage() string { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

type fakeTimeoutError struct{ timeout bool }

func (e *fakeTimeoutError) Error() string   { return "timeout" }
func (e *fakeTimeoutError) Timeout() bool   { return e.timeout }

func TestIsRetryable_ThrottlingCode(t *testing.T) {
	err := &fakeAPIError{code: "ThrottlingException"}
	assert.True(t, IsRetryable(err))
	assert.True(t, IsThrottling(err))
}

func TestIsRetryable_TransientCode(t *testing.T) {
	err := &fakeAPIError{code: "ServiceUnavailable"}
	assert.True(t, IsRetryable(err))
	assert.False(t, IsThrottling(err))
}

func TestIsRetryable_ValidationCodeNotRetryable(t *testing.T) {
	err := &fakeAPIError{code: "ValidationException"}
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable_TimeoutErrorWithoutAPIError(t *testing.T) {
	assert.True(t, IsRetryable(&fakeTimeoutError{timeout: true}))
	assert.False(t, IsRetryable(&fakeTimeoutError{timeout: false}))
}

func TestIsRetryable_NilErrIsFalse(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryable_PlainErrorIsFalse(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("boom")))
}
