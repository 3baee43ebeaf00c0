// Package domain defines the core domain models for IoTMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "IM-ACL-4030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two DomainErrors match when their codes match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Authentication errors (AUTH).
var (
	// ErrWrongPassword indicates the password does not match the stored secret.
	ErrWrongPassword = NewDomainError("IM-AUTH-4010", "wrong password")

	// ErrNotAuthenticated indicates the session has not reached the state
	// the operation requires.
	ErrNotAuthenticated = NewDomainError("IM-AUTH-4011", "session not authenticated")

	// ErrProgramRejected indicates the client program identity did not match.
	ErrProgramRejected = NewDomainError("IM-AUTH-4012", "program identity rejected")

	// ErrDeviceBusy indicates another live session already holds the device.
	ErrDeviceBusy = NewDomainError("IM-AUTH-4090", "device already in use")
)

// Access-control errors (ACL).
var (
	// ErrPermissionDenied indicates the requester may not perform the operation.
	ErrPermissionDenied = NewDomainError("IM-ACL-4030", "permission denied")

	// ErrAlreadyExists indicates the entity or membership already exists.
	ErrAlreadyExists = NewDomainError("IM-ACL-4090", "already exists")
)

// Lookup errors.
var (
	// ErrDomainNotFound indicates the named domain does not exist.
	ErrDomainNotFound = NewDomainError("IM-DOM-4040", "domain not found")

	// ErrUserNotFound indicates the named user does not exist.
	ErrUserNotFound = NewDomainError("IM-USER-4040", "user not found")

	// ErrDeviceNotFound indicates the named device does not exist.
	ErrDeviceNotFound = NewDomainError("IM-DEV-4040", "device not found")

	// ErrNoData indicates no reading or image has been stored yet.
	ErrNoData = NewDomainError("IM-DATA-4040", "no data")
)

// System errors (SYS).
var (
	// ErrInvalidArgument indicates a malformed request field.
	ErrInvalidArgument = NewDomainError("IM-ARG-1001", "invalid argument")

	// ErrUnsupportedOperation indicates the opcode has no handler.
	ErrUnsupportedOperation = NewDomainError("IM-SYS-4050", "unsupported operation")

	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("IM-SYS-5000", "internal server error")

	// ErrStorage indicates a persistence failure.
	ErrStorage = NewDomainError("IM-SYS-5001", "storage error")
)
