package minification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes minification failures
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config_error"
	ErrorTypeEngine     ErrorType = "engine_error"
	ErrorTypeConversion ErrorType = "conversion_error"
	ErrorTypeIO         ErrorType = "io_error"
	ErrorTypeTimeout    ErrorType = "timeout_error"
)

// ErrNoResult is returned when an item without a primary result reaches persistence.
var ErrNoResult = errors.New("no result for minification")

// Error is a structured minification error.
type Error struct {
	Type    ErrorType `json:"type"`
	Source  string    `json:"source,omitempty"`
	Message string    `json:"message"`
	// Payload holds the literal engine result for conversion errors.
	Payload string `json:"payload,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Type, e.Message))
	if e.Source != "" {
		b.WriteString(fmt.Sprintf(" (source %s)", e.Source))
	}
	if e.Line > 0 {
		b.WriteString(fmt.Sprintf(" at line %d", e.Line))
		if e.Column > 0 {
			b.WriteString(fmt.Sprintf(", column %d", e.Column))
		}
	}
	if e.Payload != "" {
		b.WriteString(": invalid result: ")
		b.WriteString(e.Payload)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConfigError reports a malformed options payload or an unreadable library.
func NewConfigError(source, message string, cause error) *Error {
	return &Error{Type: ErrorTypeConfig, Source: source, Message: message, Cause: cause}
}

// NewEngineError reports a library that failed to load into the engine.
func NewEngineError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeEngine, Message: message, Cause: cause}
}

// NewConversionError reports a rejected call or a malformed result. payload is the
// literal result as returned by the engine.
func NewConversionError(source, message, payload string, cause error) *Error {
	return &Error{Type: ErrorTypeConversion, Source: source, Message: message, Payload: payload, Cause: cause}
}

// NewIOError reports a failure to read a source file.
func NewIOError(source string, cause error) *Error {
	return &Error{Type: ErrorTypeIO, Source: source, Message: "failed to read source", Cause: cause}
}

// NewTimeoutError reports an engine call that did not settle in time.
func NewTimeoutError(source string, cause error) *Error {
	return &Error{Type: ErrorTypeTimeout, Source: source, Message: "minification did not complete", Cause: cause}
}

// IsConfigError checks if err is a configuration error
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsEngineError checks if err is an engine build error
func IsEngineError(err error) bool {
	return hasType(err, ErrorTypeEngine)
}

// IsConversionError checks if err is a result conversion error
func IsConversionError(err error) bool {
	return hasType(err, ErrorTypeConversion)
}

// IsIOError checks if err is a source read error
func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

// IsTimeoutError checks if err is a timeout error
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func hasType(err error, t ErrorType) bool {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Type == t
	}
	return false
}
