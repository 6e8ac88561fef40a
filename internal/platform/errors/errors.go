// Package errors provides the supervisor's error taxonomy and the mapping
// from error kind to process exit behaviour.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the category of a supervisor failure.
type Kind string

const (
	// KindConfigInvalid is a configuration that cannot be started (fatal, pre-start).
	KindConfigInvalid Kind = "config_invalid"
	// KindCertificateMissing is a secure start without readable cert/key files (fatal).
	KindCertificateMissing Kind = "certificate_missing"
	// KindBindFailure is a listener that could not be bound.
	KindBindFailure Kind = "bind_failure"
	// KindReloadFailure is an application that failed to build or load.
	KindReloadFailure Kind = "reload_failure"
	// KindShutdownTimeout is a generation that did not close in time.
	KindShutdownTimeout Kind = "shutdown_timeout"
	// KindWatcherFailure is a broken file watcher (fatal).
	KindWatcherFailure Kind = "watcher_failure"
)

// Error is a categorized error with optional context fields for logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any

	fatal bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the process cannot continue after this error.
func (e *Error) Fatal() bool {
	return e.fatal
}

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AsFatal marks the error fatal (chainable).
func (e *Error) AsFatal() *Error {
	e.fatal = true
	return e
}

// LogAttrs returns the error and its context as slog key/value pairs.
func (e *Error) LogAttrs() []any {
	attrs := make([]any, 0, 4+2*len(e.Context))
	attrs = append(attrs, "kind", string(e.Kind), "error", e.Error())
	for k, v := range e.Context {
		attrs = append(attrs, k, v)
	}
	return attrs
}

func newError(kind Kind, message string, cause error, fatal bool) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
		fatal:   fatal,
	}
}

// ConfigInvalid creates a fatal configuration error.
func ConfigInvalid(message string) *Error {
	return newError(KindConfigInvalid, message, nil, true)
}

// CertificateMissing creates a fatal missing-certificate error.
func CertificateMissing(message string, cause error) *Error {
	return newError(KindCertificateMissing, message, cause, true)
}

// BindFailure creates a bind error. The caller decides whether it is fatal.
func BindFailure(message string, cause error) *Error {
	return newError(KindBindFailure, message, cause, false)
}

// ReloadFailure creates a non-fatal application load error.
func ReloadFailure(message string, cause error) *Error {
	return newError(KindReloadFailure, message, cause, false)
}

// ShutdownTimeout creates a shutdown error. Forced closure that does not
// converge is marked fatal by the caller.
func ShutdownTimeout(message string, cause error) *Error {
	return newError(KindShutdownTimeout, message, cause, false)
}

// WatcherFailure creates a fatal watcher error.
func WatcherFailure(message string, cause error) *Error {
	return newError(KindWatcherFailure, message, cause, true)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether err is a fatal *Error.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.fatal
}

// ExitCode maps an error returned from the supervisor to a process status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// AsStructuredError converts any error into an *Error.
// If err already is one, it is returned unchanged; otherwise it becomes a
// fatal error of the given kind.
func AsStructuredError(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return newError(kind, "unexpected failure", err, true)
}
