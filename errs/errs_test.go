package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesIssuesAndFields(t *testing.T) {
	err := New(
		"sendMessage",
		CodeValidation,
		WithMessage("payload rejected"),
		WithIssues("/text: required", "  "),
		WithField("direction", "outbound"),
		WithField("transport", "websocket"),
		WithRemediation("check the request schema"),
		WithCause(errors.New("schema mismatch")),
	)

	out := err.Error()
	if !strings.Contains(out, "event=sendMessage") {
		t.Fatalf("expected event marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=validation_failed") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, `issues="/text: required"`) {
		t.Fatalf("expected single non-blank issue in error string: %s", out)
	}
	expectedFields := `fields=direction="outbound",transport="websocket"`
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected sorted fields %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, `cause="schema mismatch"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := New("message", CodeTimeout, WithMessage("no event"))
	outer := New("message", CodeTransport, WithCause(inner))
	wrapped := fmt.Errorf("wait: %w", outer)

	if !IsCode(wrapped, CodeTransport) {
		t.Fatalf("expected transport code to match")
	}
	if !IsCode(wrapped, CodeTimeout) {
		t.Fatalf("expected nested timeout code to match")
	}
	if IsCode(wrapped, CodeValidation) {
		t.Fatalf("validation code should not match")
	}
	if IsCode(errors.New("plain"), CodeTimeout) {
		t.Fatalf("plain errors never carry a code")
	}
}

func TestContractErrorIsCoded(t *testing.T) {
	err := Contract(" ghost ")
	if err.Event != "ghost" {
		t.Fatalf("expected trimmed event name, got %q", err.Event)
	}
	if !IsCode(err, CodeContract) {
		t.Fatalf("expected contract code")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
