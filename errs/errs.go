// Package errs provides structured error types and helpers for eventline channels.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a channel error category.
type Code string

const (
	// CodeContract indicates an event name that is not declared in the contract registry.
	CodeContract Code = "contract_violation"
	// CodeValidation indicates a payload that does not satisfy the declared schema.
	CodeValidation Code = "validation_failed"
	// CodeNotConnected indicates an operation that requires a live transport connection.
	CodeNotConnected Code = "not_connected"
	// CodeTimeout indicates a deadline elapsed before the awaited event arrived.
	CodeTimeout Code = "timeout"
	// CodeMiddleware indicates an inbound middleware returned an error or panicked.
	CodeMiddleware Code = "middleware_fault"
	// CodeTransport indicates a transport-level failure such as a failed dial.
	CodeTransport Code = "transport_fault"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotInitialized indicates the channel has no transport handle yet.
	CodeNotInitialized Code = "not_initialized"
	// CodeUnavailable indicates the component is closed or temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the eventline stack.
type E struct {
	Event       string
	Code        Code
	Message     string
	Issues      []string
	Fields      map[string]string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the event and error code.
func New(event string, code Code, opts ...Option) *E {
	e := &E{
		Event:       strings.TrimSpace(event),
		Code:        code,
		Message:     "",
		Issues:      nil,
		Fields:      nil,
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithIssues records individual validation issues.
func WithIssues(issues ...string) Option {
	return func(e *E) {
		for _, issue := range issues {
			if trimmed := strings.TrimSpace(issue); trimmed != "" {
				e.Issues = append(e.Issues, trimmed)
			}
		}
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	event := strings.TrimSpace(e.Event)
	if event == "" {
		event = "unknown"
	}
	parts = append(parts, "event="+event)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Issues) > 0 {
		quoted := make([]string, 0, len(e.Issues))
		for _, issue := range e.Issues {
			quoted = append(quoted, strconv.Quote(issue))
		}
		parts = append(parts, "issues="+strings.Join(quoted, ","))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether any error in err's chain is an envelope carrying code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var e *E
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// Contract returns the standard error for an undeclared event name.
func Contract(event string) *E {
	return New(event, CodeContract,
		WithMessage("event is not declared in the contract registry"),
		WithRemediation("declare the event when building the registry"))
}
