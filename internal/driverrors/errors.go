// Package driverrors implements the error taxonomy every ddbsql subsystem
// reports through: Validation, Transient, RemotePermanent,
// DiscoveryPartialFailure and PoolExhaustion. A cache miss is not an error
// and has no kind here.
//
// The shape — a single tagged error struct with a fluent builder, a kind,
// retryability and a cause — is carried over from the teacher's UnifiedError
// (internal/errors/unified_errors.go) with the domain-specific error codes
// (node/edge/category) stripped out and replaced by the kinds this spec
// defines.
package driverrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the retry engine and callers need to
// distinguish it.
type Kind string

const (
	KindValidation              Kind = "VALIDATION"
	KindTransient               Kind = "TRANSIENT"
	KindRemotePermanent          Kind = "REMOTE_PERMANENT"
	KindDiscoveryPartialFailure Kind = "DISCOVERY_PARTIAL_FAILURE"
	KindPoolExhaustion          Kind = "POOL_EXHAUSTION"
)

// DriverError is the single error type returned across package boundaries.
type DriverError struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "executeQuery"
	Message   string
	Retryable bool
	Cause     error

	// PoolState is populated only for KindPoolExhaustion (spec.md §7).
	PoolActive int
	PoolTotal  int
}

func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ddbsql: %s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("ddbsql: %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *DriverError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) report true when target is a *DriverError
// of the same Kind. A bare Kind is not an error and cannot be passed as the
// target; callers more commonly use the Is* helpers below.
func (e *DriverError) Is(target error) bool {
	var other *DriverError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Builder provides the teacher's fluent construction style.
type Builder struct {
	err *DriverError
}

func New(kind Kind, op string) *Builder {
	return &Builder{err: &DriverError{Kind: kind, Op: op}}
}

func (b *Builder) Message(msg string, args ...interface{}) *Builder {
	b.err.Message = fmt.Sprintf(msg, args...)
	return b
}

func (b *Builder) Retryable(r bool) *Builder {
	b.err.Retryable = r
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) PoolState(active, total int) *Builder {
	b.err.PoolActive = active
	b.err.PoolTotal = total
	return b
}

func (b *Builder) Build() *DriverError { return b.err }

// Convenience constructors mirroring the teacher's NewNotFound/NewConflict
// helpers (repository/errors.go) but for this taxonomy.

func Validation(op, field, reason string) *DriverError {
	return New(KindValidation, op).Message("%s: %s", field, reason).Build()
}

func Transient(op string, cause error) *DriverError {
	return New(KindTransient, op).Retryable(true).Cause(cause).Message("transient failure").Build()
}

func RemotePermanent(op string, cause error) *DriverError {
	return New(KindRemotePermanent, op).Retryable(false).Cause(cause).Message("remote rejected request").Build()
}

func PoolExhaustion(op string, active, total int) *DriverError {
	return New(KindPoolExhaustion, op).PoolState(active, total).Message("no connection available: active=%d total=%d", active, total).Build()
}

func DiscoveryPartial(op, table string, cause error) *DriverError {
	return New(KindDiscoveryPartialFailure, op).Cause(cause).Message("schema discovery failed for table %q", table).Build()
}

// IsRetryable reports whether err, of any of the kinds above, should be
// retried by the retry engine (spec.md §7: Transient is retried,
// Validation/RemotePermanent are not).
func IsRetryable(err error) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsKind reports whether err is a DriverError of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
