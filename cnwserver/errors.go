package cnwserver

import (
	"errors"
	"fmt"
	"strconv"
)

// Code is the numeric response code set by the Validator.
type Code int

// Response codes. Failures are returned as data, never as Go errors.
const (
	CodeOK                 Code = 200
	CodeLicenseUnresolved  Code = 400
	CodeStatusUnverifiable Code = 401
	CodeLicenseInactive    Code = 402
	CodeLicenseExpired     Code = 403
)

// Messages attached to failure responses.
const (
	MsgLicenseUnresolved  = "License can not be verified."
	MsgStatusUnverifiable = "License status can not be verified."
	MsgLicenseInactive    = "License is not active."
	MsgLicenseExpired     = "License has expired."
)

// Sentinel errors for validation failures.
var (
	ErrLicenseUnresolved  = errors.New("license can not be verified")
	ErrStatusUnverifiable = errors.New("license status can not be verified")
	ErrLicenseInactive    = errors.New("license is not active")
	ErrLicenseExpired     = errors.New("license has expired")
)

// Err maps a failure code to its sentinel error. Success and unset codes map to nil.
func (c Code) Err() error {
	switch c {
	case CodeLicenseUnresolved:
		return ErrLicenseUnresolved
	case CodeStatusUnverifiable:
		return ErrStatusUnverifiable
	case CodeLicenseInactive:
		return ErrLicenseInactive
	case CodeLicenseExpired:
		return ErrLicenseExpired
	default:
		return nil
	}
}

// HTTPStatus returns the HTTP status to send for this code; unset means 200.
func (c Code) HTTPStatus() int {
	if c == 0 {
		return int(CodeOK)
	}
	return int(c)
}

func (c Code) String() string {
	if c == 0 {
		return "unset"
	}
	return strconv.Itoa(int(c))
}

// ServerError represents a failure response from the license server.
type ServerError struct {
	StatusCode int
	Code       Code
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: [%d] %s", e.StatusCode, e.Code, e.Message)
}

// mapServerError converts a ServerError to a well-known sentinel error if possible.
// The returned error wraps both the sentinel error and the original ServerError
// so callers can use errors.Is() for sentinel checks and errors.As() for details.
func mapServerError(se *ServerError) error {
	sentinel := se.Code.Err()
	if sentinel == nil {
		return se
	}
	return &mappedError{sentinel: sentinel, server: se}
}

// mappedError wraps a sentinel error with the original ServerError details.
type mappedError struct {
	sentinel error
	server   *ServerError
}

func (e *mappedError) Error() string {
	return e.sentinel.Error()
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target interface{}) bool {
	if t, ok := target.(**ServerError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}
