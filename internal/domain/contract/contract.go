// Package contract declares the named events a channel may send or receive and
// the schemas bound to each of them.
package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/domain/schema"
)

// Direction tells whether an event is listened for or emitted.
type Direction string

const (
	// Inbound events arrive from the remote peer and are consumed with On/Once/WaitFor.
	Inbound Direction = "on"
	// Outbound events are sent with Emit/EmitAsync/EmitQueued.
	Outbound Direction = "emit"
)

// Kind distinguishes outbound contracts that expect an acknowledgment.
type Kind int

const (
	// KindRequestOnly outbound events carry a request payload and no ack.
	KindRequestOnly Kind = iota
	// KindRequestWithCallback outbound events carry a request payload and expect an ack.
	KindRequestWithCallback
)

func (k Kind) String() string {
	if k == KindRequestWithCallback {
		return "request_with_callback"
	}
	return "request_only"
}

// Contract binds an event name to its schemas.
// Inbound contracts use Response for the payload they receive.
// Outbound contracts use Request and, when Kind is KindRequestWithCallback, Callback.
type Contract struct {
	Name      string
	Direction Direction
	Kind      Kind
	Request   schema.Validator
	Response  schema.Validator
	Callback  schema.Validator
}

// On declares an inbound event whose payload is checked by response.
func On(name string, response schema.Validator) Contract {
	return Contract{Name: name, Direction: Inbound, Response: response}
}

// Emit declares a request-only outbound event.
func Emit(name string, request schema.Validator) Contract {
	return Contract{Name: name, Direction: Outbound, Kind: KindRequestOnly, Request: request}
}

// EmitWithCallback declares an outbound event whose ack payload is checked by callback.
func EmitWithCallback(name string, request, callback schema.Validator) Contract {
	return Contract{Name: name, Direction: Outbound, Kind: KindRequestWithCallback, Request: request, Callback: callback}
}

// Payload returns the validator for the payload travelling in the contract's direction.
func (c Contract) Payload() schema.Validator {
	if c.Direction == Inbound {
		return c.Response
	}
	return c.Request
}

// HasCallback reports whether the contract expects an acknowledgment.
func (c Contract) HasCallback() bool {
	return c.Direction == Outbound && c.Kind == KindRequestWithCallback
}

func (c Contract) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("contract name required")
	}
	switch c.Direction {
	case Inbound:
		if c.Response == nil {
			return fmt.Errorf("contract %q: inbound response schema required", c.Name)
		}
	case Outbound:
		if c.Request == nil {
			return fmt.Errorf("contract %q: outbound request schema required", c.Name)
		}
		if c.Kind == KindRequestWithCallback && c.Callback == nil {
			return fmt.Errorf("contract %q: callback schema required", c.Name)
		}
	default:
		return fmt.Errorf("contract %q: unknown direction %q", c.Name, c.Direction)
	}
	return nil
}

// Registry is an immutable lookup of contracts by direction and name.
// The same name may be declared once per direction.
type Registry struct {
	inbound  map[string]Contract
	outbound map[string]Contract
}

// NewRegistry validates and indexes the supplied contracts.
func NewRegistry(contracts ...Contract) (*Registry, error) {
	r := &Registry{
		inbound:  make(map[string]Contract),
		outbound: make(map[string]Contract),
	}
	for _, c := range contracts {
		c.Name = strings.TrimSpace(c.Name)
		if err := c.validate(); err != nil {
			return nil, err
		}
		table := r.table(c.Direction)
		if _, exists := table[c.Name]; exists {
			return nil, fmt.Errorf("contract %q declared twice for direction %q", c.Name, c.Direction)
		}
		table[c.Name] = c
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid declarations, for package-level contract tables.
func MustRegistry(contracts ...Contract) *Registry {
	r, err := NewRegistry(contracts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) table(d Direction) map[string]Contract {
	if d == Inbound {
		return r.inbound
	}
	return r.outbound
}

// Lookup returns the contract declared for name in direction d, or a contract violation error.
func (r *Registry) Lookup(d Direction, name string) (Contract, error) {
	if r != nil {
		if c, ok := r.table(d)[name]; ok {
			return c, nil
		}
	}
	return Contract{}, errs.New(name, errs.CodeContract,
		errs.WithMessage(fmt.Sprintf("event not declared as %q", d)),
		errs.WithRemediation("declare the event in the contract registry before using it"))
}

// Inbound looks up an inbound contract.
func (r *Registry) Inbound(name string) (Contract, error) {
	return r.Lookup(Inbound, name)
}

// Outbound looks up an outbound contract.
func (r *Registry) Outbound(name string) (Contract, error) {
	return r.Lookup(Outbound, name)
}

// Names lists the declared names for direction d in sorted order.
func (r *Registry) Names(d Direction) []string {
	if r == nil {
		return nil
	}
	table := r.table(d)
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
