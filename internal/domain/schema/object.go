package schema

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Kind enumerates the value kinds a Field can describe.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindBool
	KindNumber
	KindInteger
	KindDecimal
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Field describes one named property of an object, or an array element when the name is empty.
type Field struct {
	name     string
	kind     Kind
	optional bool
	minLen   int
	maxLen   int
	elem     *Field
	object   *ObjectSchema
}

func newField(name string, kind Kind) Field {
	return Field{name: strings.TrimSpace(name), kind: kind, minLen: -1, maxLen: -1}
}

// String declares a string property.
func String(name string) Field { return newField(name, KindString) }

// Bool declares a boolean property.
func Bool(name string) Field { return newField(name, KindBool) }

// Number declares a floating point property.
func Number(name string) Field { return newField(name, KindNumber) }

// Integer declares an integral property.
func Integer(name string) Field { return newField(name, KindInteger) }

// Decimal declares an arbitrary-precision decimal property given as a JSON number or numeric string.
func Decimal(name string) Field { return newField(name, KindDecimal) }

// Any declares a property whose value is not checked.
func Any(name string) Field { return newField(name, KindAny) }

// Array declares an array property whose elements match elem (elem's name is ignored).
func Array(name string, elem Field) Field {
	f := newField(name, KindArray)
	e := elem
	e.name = ""
	f.elem = &e
	return f
}

// Nested declares an object property validated by obj.
func Nested(name string, obj *ObjectSchema) Field {
	f := newField(name, KindObject)
	f.object = obj
	return f
}

// Name returns the property name.
func (f Field) Name() string { return f.name }

// Kind returns the declared kind.
func (f Field) Kind() Kind { return f.kind }

// Optional marks the property as not required. An explicit null counts as absent.
func (f Field) Optional() Field {
	f.optional = true
	return f
}

// MinLen bounds string length (in runes) or array length from below.
func (f Field) MinLen(n int) Field {
	f.minLen = n
	return f
}

// MaxLen bounds string length (in runes) or array length from above.
func (f Field) MaxLen(n int) Field {
	f.maxLen = n
	return f
}

// ObjectSchema validates JSON objects against a fixed set of fields.
// Unknown keys are stripped unless Strict is set.
type ObjectSchema struct {
	fields []Field
	strict bool
}

// Object builds an object schema from its fields.
func Object(fields ...Field) *ObjectSchema {
	return &ObjectSchema{fields: append([]Field(nil), fields...)}
}

// Strict returns a copy of the schema that rejects unknown keys.
func (s *ObjectSchema) Strict() *ObjectSchema {
	clone := *s
	clone.fields = append([]Field(nil), s.fields...)
	clone.strict = true
	return &clone
}

// Fields returns the declared fields in order.
func (s *ObjectSchema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Validate implements Validator.
func (s *ObjectSchema) Validate(raw any) (any, error) {
	v, err := Normalize(raw)
	if err != nil {
		return nil, fail(Issue{Path: "", Code: CodeDecode, Message: err.Error()})
	}
	out, issues := s.check("", v)
	if len(issues) > 0 {
		return nil, fail(issues...)
	}
	return out, nil
}

func (s *ObjectSchema) check(path string, v any) (map[string]any, []Issue) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, []Issue{typeIssue(path, KindObject, v)}
	}
	var issues []Issue
	out := make(map[string]any, len(s.fields))
	known := make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		known[f.name] = struct{}{}
		fieldPath := path + "/" + escapePointer(f.name)
		value, present := obj[f.name]
		if !present || value == nil {
			if !f.optional {
				issues = append(issues, Issue{Path: fieldPath, Code: CodeRequired, Message: "required"})
			}
			continue
		}
		normalized, fieldIssues := f.check(fieldPath, value)
		if len(fieldIssues) > 0 {
			issues = append(issues, fieldIssues...)
			continue
		}
		out[f.name] = normalized
	}
	if s.strict {
		for key := range obj {
			if _, ok := known[key]; !ok {
				issues = append(issues, Issue{
					Path:    path + "/" + escapePointer(key),
					Code:    CodeUnrecognized,
					Message: "unrecognized key",
				})
			}
		}
	}
	return out, issues
}

func (f Field) check(path string, v any) (any, []Issue) {
	switch f.kind {
	case KindAny:
		return v, nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		if issue, ok := f.lengthIssue(path, utf8.RuneCountInString(s)); ok {
			return nil, []Issue{issue}
		}
		return s, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		return b, nil
	case KindNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		fv, err := n.Float64()
		if err != nil {
			return nil, []Issue{{Path: path, Code: CodeInvalidNumber, Message: err.Error()}}
		}
		return fv, nil
	case KindInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		iv, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, []Issue{{Path: path, Code: CodeInvalidNumber, Message: "expected integer, received " + n.String()}}
		}
		return iv, nil
	case KindDecimal:
		var text string
		switch typed := v.(type) {
		case json.Number:
			text = typed.String()
		case string:
			text = strings.TrimSpace(typed)
		default:
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, []Issue{{Path: path, Code: CodeInvalidNumber, Message: fmt.Sprintf("expected decimal, received %q", text)}}
		}
		return d, nil
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, []Issue{typeIssue(path, f.kind, v)}
		}
		if issue, ok := f.lengthIssue(path, len(items)); ok {
			return nil, []Issue{issue}
		}
		out := make([]any, 0, len(items))
		var issues []Issue
		for i, item := range items {
			itemPath := path + "/" + strconv.Itoa(i)
			if f.elem == nil {
				out = append(out, item)
				continue
			}
			if item == nil {
				issues = append(issues, Issue{Path: itemPath, Code: CodeInvalidType, Message: "expected " + f.elem.kind.String() + ", received null"})
				continue
			}
			normalized, itemIssues := f.elem.check(itemPath, item)
			issues = append(issues, itemIssues...)
			out = append(out, normalized)
		}
		if len(issues) > 0 {
			return nil, issues
		}
		return out, nil
	case KindObject:
		if f.object == nil {
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, []Issue{typeIssue(path, f.kind, v)}
			}
			return obj, nil
		}
		out, issues := f.object.check(path, v)
		if len(issues) > 0 {
			return nil, issues
		}
		return out, nil
	default:
		return v, nil
	}
}

func (f Field) lengthIssue(path string, n int) (Issue, bool) {
	if f.minLen >= 0 && n < f.minLen {
		return Issue{Path: path, Code: CodeTooShort, Message: fmt.Sprintf("expected length >= %d, received %d", f.minLen, n)}, true
	}
	if f.maxLen >= 0 && n > f.maxLen {
		return Issue{Path: path, Code: CodeTooLong, Message: fmt.Sprintf("expected length <= %d, received %d", f.maxLen, n)}, true
	}
	return Issue{}, false
}

func typeIssue(path string, want Kind, got any) Issue {
	return Issue{
		Path:    path,
		Code:    CodeInvalidType,
		Message: "expected " + want.String() + ", received " + describe(got),
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// escapePointer escapes a key for use as a JSON pointer token.
func escapePointer(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	return strings.ReplaceAll(key, "/", "~1")
}
