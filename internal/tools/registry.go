// Package tools serves the financial calculators over REST and MCP.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrUnknownTool is returned for a name no tool is registered under.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments wraps decode and validation failures.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Property is one JSON schema property of a tool input.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the JSON schema of a tool input.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is what discovery returns for a tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Handler runs a tool on already decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	def Definition
	fn  Handler
}

// Registry holds the tools by name.
type Registry struct {
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]entry{}}
}

// Register adds a tool. A second registration under the same name replaces
// the first.
func (r *Registry) Register(def Definition, fn Handler) {
	r.tools[def.Name] = entry{def: def, fn: fn}
}

// Definitions lists the tools sorted by name.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	e, ok := r.tools[name]
	return e.def, ok
}

// Call runs the named tool.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.fn(ctx, args)
}

// Typed adapts a typed formula into a Handler. Arguments are decoded with
// mapstructure, so numbers given as strings are accepted.
func Typed[In interface{ Validate() error }, Out any](fn func(In) (Out, error)) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		var in In
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &in,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(args); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		}
		return fn(in)
	}
}

func number(description string) Property {
	return Property{Type: "number", Description: description}
}

// Default returns the registry with the SIP and loan calculators.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Definition{
		Name:        "sip_calculator",
		Description: "Calculate SIP future value with compound interest.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"monthly_sip":        number("Monthly investment"),
				"annual_return_rate": number("Annual return rate in %"),
				"years":              number("Number of years"),
			},
			Required: []string{"monthly_sip", "annual_return_rate", "years"},
		},
	}, Typed(SIP))
	r.Register(Definition{
		Name:        "loan_calculator",
		Description: "Calculate loan EMI, total payment, and interest.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"principal":   number("Loan amount"),
				"annual_rate": number("Annual interest rate in %"),
				"years":       number("Number of years"),
			},
			Required: []string{"principal", "annual_rate", "years"},
		},
	}, Typed(Loan))
	return r
}
