// Package schema defines the validator contract used by channel contracts and a
// small object-schema toolkit that satisfies it.
//
// A Validator receives a raw payload (decoded JSON, json.RawMessage, bytes, or any
// Go value that marshals to JSON) and returns either the normalised value or a
// *ValidationError describing every issue found.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Validator checks a raw payload and returns its normalised form.
type Validator interface {
	Validate(raw any) (any, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(raw any) (any, error)

// Validate calls f(raw).
func (f ValidatorFunc) Validate(raw any) (any, error) {
	return f(raw)
}

// Issue codes.
const (
	CodeRequired      = "required"
	CodeInvalidType   = "invalid_type"
	CodeTooShort      = "too_small"
	CodeTooLong       = "too_big"
	CodeUnrecognized  = "unrecognized_key"
	CodeInvalidNumber = "invalid_number"
	CodeDecode        = "decode"
	CodeCustom        = "custom"
)

// Issue is a single validation problem located by a JSON pointer.
type Issue struct {
	Path    string
	Code    string
	Message string
}

func (i Issue) String() string {
	path := i.Path
	if path == "" {
		path = "/"
	}
	return path + ": " + i.Message
}

// ValidationError aggregates the issues found while validating a payload.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Strings(), "; ")
}

// Strings renders each issue as "path: message".
func (e *ValidationError) Strings() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		out = append(out, issue.String())
	}
	return out
}

// AsValidationError extracts a *ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func fail(issues ...Issue) error {
	return &ValidationError{Issues: issues}
}

// Normalize converts a raw payload into its generic JSON shape: map[string]any,
// []any, string, json.Number, bool or nil. Byte payloads are decoded as JSON;
// strings are treated as plain string values.
func Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	case string, bool, json.Number:
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// Empty accepts only an absent payload (nil, empty bytes, or JSON null).
func Empty() Validator {
	return ValidatorFunc(func(raw any) (any, error) {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fail(Issue{Path: "", Code: CodeDecode, Message: err.Error()})
		}
		if v != nil {
			return nil, fail(Issue{Path: "", Code: CodeInvalidType, Message: "expected no payload"})
		}
		return nil, nil
	})
}

// Passthrough accepts any payload and returns it normalised.
func Passthrough() Validator {
	return ValidatorFunc(func(raw any) (any, error) {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fail(Issue{Path: "", Code: CodeDecode, Message: err.Error()})
		}
		return v, nil
	})
}
