package resilience

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
)

// ExecutionError is returned when an operation gives up.
type ExecutionError struct {
	Operation string
	Class     Class
	Attempts  int
	Elapsed   time.Duration
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) [%s]: %v", e.Operation, e.Attempts, e.Class, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// APIError maps the failure onto a platform error so handlers can render it.
func (e *ExecutionError) APIError() *pkgerrors.Error {
	return apiErrorFor(e.Class, e, e.Operation)
}

// FallbackError is returned when the primary and every fallback failed. Err
// combines each source's error in the order they were tried.
type FallbackError struct {
	Operation string
	Class     Class
	Sources   []string
	Attempts  int
	Elapsed   time.Duration
	Err       error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("%s failed across %d source(s) [%s]: %v", e.Operation, len(e.Sources), e.Class, e.Err)
}

func (e *FallbackError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// APIError maps the combined failure onto a platform error.
func (e *FallbackError) APIError() *pkgerrors.Error {
	return apiErrorFor(e.Class, e, e.Operation)
}

// ClassOf returns the class recorded on an executor error, or classifies err
// with DefaultClassifier when it did not come from the executor.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var fbErr *FallbackError
	if errors.As(err, &fbErr) {
		return fbErr.Class
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Class
	}
	return DefaultClassifier(err)
}

// AsAPIError converts any error into a platform error, honouring executor
// classification when present.
func AsAPIError(err error) *pkgerrors.Error {
	if err == nil {
		return nil
	}
	var fbErr *FallbackError
	if errors.As(err, &fbErr) {
		return fbErr.APIError()
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.APIError()
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected failure")
}

func apiErrorFor(class Class, cause error, operation string) *pkgerrors.Error {
	if typed := pkgerrors.As(cause); typed != nil && typed.Code() != pkgerrors.CodeInternal {
		return typed
	}
	details := map[string]any{"operation": operation, "class": class.String()}
	switch class {
	case ClassValidation:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, "request rejected by upstream").WithDetails(details)
	case ClassQuotaExceeded:
		return pkgerrors.Wrap(pkgerrors.CodeQuotaExceeded, cause, "upstream quota exhausted; upgrade the plan or wait for the quota to reset").WithDetails(details)
	case ClassRateLimit:
		return pkgerrors.Wrap(pkgerrors.CodeRateLimit, cause, "upstream rate limit exceeded").WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "upstream dependency failed").WithDetails(details)
	}
}
