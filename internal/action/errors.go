package action

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSecurityViolation is matched by every *SecurityError. Business logic
	// wraps it to reject a request from inside a handler.
	ErrSecurityViolation = errors.New("security violation")
	// ErrDuplicateRoute reports a (method, path) pair registered twice.
	ErrDuplicateRoute = errors.New("action: duplicate method/path")
	// ErrRegistryFrozen reports a registration after serving started.
	ErrRegistryFrozen = errors.New("action: registry frozen")
)

// Stage is a step of the execution pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageMethodChecked
	StageCSRFChecked
	StageAuthorizationChecked
	StageExecuted
	StageCompleted
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageMethodChecked:
		return "method_checked"
	case StageCSRFChecked:
		return "csrf_checked"
	case StageAuthorizationChecked:
		return "authorization_checked"
	case StageExecuted:
		return "executed"
	case StageCompleted:
		return "completed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Reason tells apart the causes of a SecurityError.
type Reason string

const (
	ReasonInvalidCSRF Reason = "invalid csrf token"
	ReasonForbidden   Reason = "forbidden"
	ReasonViolation   Reason = "security violation"
)

// MethodNotAllowedError is returned when the request method differs from the
// method the action requires.
type MethodNotAllowedError struct {
	Request  *http.Request
	Response http.ResponseWriter
	Params   []any
	Message  string
	// Stage is the last stage passed before rejection.
	Stage Stage
}

func (e *MethodNotAllowedError) Error() string {
	return e.Message
}

// SecurityError is returned for CSRF mismatches, insufficient roles and
// violations signaled by business logic.
type SecurityError struct {
	Reason   Reason
	Request  *http.Request
	Response http.ResponseWriter
	Params   []any
	Message  string
	Stage    Stage
	Err      error
}

func (e *SecurityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Reason)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// Is makes every SecurityError match ErrSecurityViolation.
func (e *SecurityError) Is(target error) bool {
	return target == ErrSecurityViolation
}

// IsInvalidCSRF reports whether err is a CSRF rejection.
func IsInvalidCSRF(err error) bool {
	var se *SecurityError
	return errors.As(err, &se) && se.Reason == ReasonInvalidCSRF
}

// IsMethodNotAllowed reports whether err is a method rejection.
func IsMethodNotAllowed(err error) bool {
	var me *MethodNotAllowedError
	return errors.As(err, &me)
}
