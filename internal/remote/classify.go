package remote

import (
	"errors"

	"github.com/aws/smithy-go"
)

// throttlingCodes and transientCodes are the error codes the teacher's
// isAWSRetryableError switched on by concrete exception type
// (internal/repository/retry.go); here they're matched against
// smithy.APIError.ErrorCode() so the classifier works uniformly whether the
// SDK returns a modeled exception type or a generic API error.
var throttlingCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"ThrottlingException":                    true,
	"LimitExceededException":                 true,
}

var transientCodes = map[string]bool{
	"InternalServerError":                      true,
	"ServiceUnavailable":                       true,
	"RequestTimeout":                           true,
	"ItemCollectionSizeLimitExceededException": true,
}

// IsRetryable classifies a remote error as retryable (throttling/transient)
// per spec.md §4.2/§7. Validation, permission, and parse errors are not
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return throttlingCodes[code] || transientCodes[code]
	}
	// Network-level errors without a modeled API error (connection reset,
	// timeout) are treated as transient.
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}

// IsThrottling narrows IsRetryable to the throttling subset. The retry
// engine does not call it: its throttling counter counts every retried error.
func IsThrottling(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttlingCodes[apiErr.ErrorCode()]
	}
	return false
}
