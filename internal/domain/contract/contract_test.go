package contract

import (
	"strings"
	"testing"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/domain/schema"
)

func chatRegistry(t *testing.T) *Registry {
	t.Helper()
	text := schema.Object(schema.String("text"))
	r, err := NewRegistry(
		On("message", text),
		EmitWithCallback("sendMessage", text, schema.Object(schema.Bool("success"))),
		Emit("typing", schema.Empty()),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestLookupByDirection(t *testing.T) {
	r := chatRegistry(t)

	c, err := r.Outbound("sendMessage")
	if err != nil {
		t.Fatalf("lookup sendMessage: %v", err)
	}
	if !c.HasCallback() || c.Kind != KindRequestWithCallback {
		t.Fatalf("expected callback contract, got %+v", c)
	}
	if c.Payload() != c.Request {
		t.Fatalf("expected outbound payload to be request schema")
	}

	typing, err := r.Outbound("typing")
	if err != nil || typing.HasCallback() {
		t.Fatalf("expected request-only contract, got %+v err=%v", typing, err)
	}

	in, err := r.Inbound("message")
	if err != nil {
		t.Fatalf("lookup message: %v", err)
	}
	if in.HasCallback() || in.Payload() != in.Response {
		t.Fatalf("unexpected inbound contract %+v", in)
	}
}

func TestLookupUndeclaredIsContractViolation(t *testing.T) {
	r := chatRegistry(t)
	for _, tc := range []struct {
		dir  Direction
		name string
	}{
		{Inbound, "sendMessage"},
		{Outbound, "message"},
		{Outbound, "missing"},
	} {
		_, err := r.Lookup(tc.dir, tc.name)
		if !errs.IsCode(err, errs.CodeContract) {
			t.Fatalf("%s/%s: expected contract violation, got %v", tc.dir, tc.name, err)
		}
	}
}

func TestNilRegistryRejectsEverything(t *testing.T) {
	var r *Registry
	if _, err := r.Inbound("message"); !errs.IsCode(err, errs.CodeContract) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if names := r.Names(Inbound); names != nil {
		t.Fatalf("expected no names, got %v", names)
	}
}

func TestNewRegistryRejectsInvalidDeclarations(t *testing.T) {
	text := schema.Object(schema.String("text"))
	cases := map[string][]Contract{
		"name":      {On(" ", text)},
		"response":  {On("message", nil)},
		"request":   {Emit("send", nil)},
		"callback":  {EmitWithCallback("send", text, nil)},
		"direction": {{Name: "x", Direction: "sideways", Request: text}},
		"twice":     {On("message", text), On("message", text)},
	}
	for name, contracts := range cases {
		if _, err := NewRegistry(contracts...); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSameNameBothDirections(t *testing.T) {
	text := schema.Object(schema.String("text"))
	r, err := NewRegistry(On("echo", text), Emit("echo", text))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := strings.Join(r.Names(Inbound), ","); got != "echo" {
		t.Fatalf("unexpected inbound names %q", got)
	}
	if got := strings.Join(r.Names(Outbound), ","); got != "echo" {
		t.Fatalf("unexpected outbound names %q", got)
	}
}

func TestMustRegistryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustRegistry(On("", nil))
}
