package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// CollaboratorErrorMessage describes a failed model or vector-search call.
	CollaboratorErrorMessage = "collaborator call failed"
	// ToolUnavailableMessage describes a missing tool in the registry.
	ToolUnavailableMessage = "tool unavailable"
	// ToolInvocationMessage describes a registered tool that failed.
	ToolInvocationMessage = "tool invocation failed"
)

// Sentinel kinds, matched through errors.Is.
var (
	ErrCollaborator    = errors.New(CollaboratorErrorMessage)
	ErrToolUnavailable = errors.New(ToolUnavailableMessage)
	ErrToolInvocation  = errors.New(ToolInvocationMessage)
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
	// Kind is one of the sentinel errors above, nil for generic failures.
	Kind error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target is the error kind or matches the underlying error.
func (e *AppError) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}

// WrapCollaborator marks err as a failed call to the named collaborator
// (language model, embedder, vector index).
func WrapCollaborator(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     fmt.Errorf("%s: %w", collaborator, err),
		Status:  http.StatusBadGateway,
		Message: CollaboratorErrorMessage,
		Kind:    ErrCollaborator,
	}
}

// ToolUnavailable reports that no registered tool matches keyword.
func ToolUnavailable(keyword string) error {
	return &AppError{
		Err:     fmt.Errorf("no tool matching %q", keyword),
		Status:  http.StatusServiceUnavailable,
		Message: ToolUnavailableMessage,
		Kind:    ErrToolUnavailable,
	}
}

// WrapToolInvocation marks err as a failure of the named registered tool.
func WrapToolInvocation(tool string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     fmt.Errorf("%s: %w", tool, err),
		Status:  http.StatusBadGateway,
		Message: ToolInvocationMessage,
		Kind:    ErrToolInvocation,
	}
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
