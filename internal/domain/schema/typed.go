package schema

import (
	"bytes"

	"github.com/goccy/go-json"
)

// SelfValidator is implemented by payload types that carry their own semantic checks.
type SelfValidator interface {
	Validate() error
}

// Typed returns a Validator that decodes payloads into T with unknown fields
// rejected, then runs T's Validate method when T (or *T) implements SelfValidator.
// The validated value returned is a T.
func Typed[T any]() Validator {
	return ValidatorFunc(func(raw any) (any, error) {
		var out T
		if v, ok := raw.(T); ok {
			out = v
		} else if err := decodeStrict(raw, &out); err != nil {
			return nil, fail(Issue{Path: "", Code: CodeDecode, Message: err.Error()})
		}
		if err := selfValidate(&out); err != nil {
			if ve, ok := AsValidationError(err); ok {
				return nil, ve
			}
			return nil, fail(Issue{Path: "", Code: CodeCustom, Message: err.Error()})
		}
		return out, nil
	})
}

func decodeStrict(raw any, dst any) error {
	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		data = encoded
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func selfValidate[T any](v *T) error {
	if sv, ok := any(v).(SelfValidator); ok {
		return sv.Validate()
	}
	if sv, ok := any(*v).(SelfValidator); ok {
		return sv.Validate()
	}
	return nil
}
