// Package tool implements the tool descriptor registry and call executor:
// schema generation, argument validation, and serial/parallel dispatch of
// LLM-issued tool_calls.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/opencmit/alphora/pkg/registry"
)

// Handler is the function a tool invokes. args has already been validated
// against Descriptor.Schema. The returned value is normalized to a string
// by the executor; an error produces a Result with status "error".
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor is the normalized shape every tool is reduced to, whether it
// started life as a declarative struct-backed definition or a hand-built
// schema.
type Descriptor struct {
	Name        string
	Description string
	// Schema is a JSON-Schema-shaped object (as produced by ToSchema, or
	// supplied directly) describing the handler's expected arguments.
	Schema  map[string]any
	Handler Handler
	// Async marks handlers that already return promptly without blocking a
	// worker goroutine. The executor does not read it: every handler runs on
	// its own goroutine either way.
	Async bool
}

// ToSchema reflects over a struct type to produce the JSON-Schema parameter
// object for a Descriptor. Fields are named by their `json` tag; a field is
// required unless it is a pointer or carries `jsonschema:"omitempty"`.
//
// Example:
//
//	type addArgs struct {
//	    A int `json:"a" jsonschema_description:"first operand"`
//	    B int `json:"b" jsonschema_description:"second operand"`
//	}
//	schema := tool.ToSchema(addArgs{})
func ToSchema(args any) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		RequiredFromJSONSchemaTags: false,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(args))

	raw, _ := schema.MarshalJSON()
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// RegistrationError is raised when a Descriptor name conflicts with one
// already registered and no override was supplied.
type RegistrationError struct {
	Name    string
	Message string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("tool registry: %s: %s", e.Name, e.Message)
}

// Registry holds the set of Descriptors an agent can dispatch tool_calls
// against.
type Registry struct {
	base *registry.BaseRegistry[Descriptor]
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Descriptor]()}
}

// Register adds d under d.Name, or under nameOverride if non-empty. A name
// collision produces a *RegistrationError.
func (r *Registry) Register(d Descriptor, nameOverride string) error {
	name := d.Name
	if nameOverride != "" {
		name = nameOverride
		d.Name = nameOverride
	}
	if err := r.base.Register(name, d); err != nil {
		return &RegistrationError{Name: name, Message: "already registered; pass a nameOverride to disambiguate"}
	}
	return nil
}

// Unregister removes a previously registered tool.
func (r *Registry) Unregister(name string) error {
	return r.base.Remove(name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	return r.base.Get(name)
}

// GetAllTools returns every registered Descriptor, in no particular order.
func (r *Registry) GetAllTools() []Descriptor {
	return r.base.List()
}

// OpenAITool is the wire shape the LLM client forwards as the request's
// `tools` array.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the `function` field of an OpenAITool.
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GetOpenAIToolsSchema renders every registered Descriptor into the
// OpenAI-compatible tools array sent to the LLM.
func (r *Registry) GetOpenAIToolsSchema() []OpenAITool {
	all := r.base.List()
	out := make([]OpenAITool, 0, len(all))
	for _, d := range all {
		params := d.Schema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
