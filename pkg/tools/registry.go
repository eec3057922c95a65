// Package tools is the per-session tool registry and executor. Arguments are
// validated against each tool's JSON schema before the handler runs; failures
// come back as structured results for the calling agent, never as panics.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
)

// Handler executes one tool call. input has already passed schema validation.
type Handler func(ctx context.Context, input map[string]any, tc *Context) (any, error)

type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Handler     Handler
}

type entry struct {
	def      Definition
	resolved *jsonschema.Resolved
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	byName map[string]entry
}

// NewRegistry resolves every schema up front. A duplicate name, a missing
// handler or an unresolvable schema is a configuration error.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]entry, len(defs))}
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, core.NewConfigurationError(fmt.Sprintf("tool %d has no name", i))
		}
		if _, exists := r.byName[name]; exists {
			return nil, core.NewConfigurationError(fmt.Sprintf("duplicate tool %q", name))
		}
		if def.Handler == nil {
			return nil, core.NewConfigurationError(fmt.Sprintf("tool %q has no handler", name))
		}
		if def.Parameters == nil {
			def.Parameters = Object(nil)
		}
		resolved, err := def.Parameters.Resolve(nil)
		if err != nil {
			return nil, core.NewConfigurationError(fmt.Sprintf("tool %q has an invalid parameter schema: %v", name, err))
		}
		def.Name = name
		r.byName[name] = entry{def: def, resolved: resolved}
	}
	return r, nil
}

// Merge combines registries. Name collisions are configuration errors.
func Merge(registries ...*Registry) (*Registry, error) {
	var defs []Definition
	for _, reg := range registries {
		if reg == nil {
			continue
		}
		for _, name := range reg.Names() {
			defs = append(defs, reg.byName[name].def)
		}
	}
	return NewRegistry(defs...)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[name]
	return ok
}

// Tool returns the model-facing descriptor for name.
func (r *Registry) Tool(name string) (types.Tool, bool) {
	if r == nil {
		return types.Tool{}, false
	}
	e, ok := r.byName[name]
	if !ok {
		return types.Tool{}, false
	}
	return types.FunctionTool(e.def.Name, e.def.Description, e.def.Parameters), true
}

// Tools returns descriptors for names in the given order, or for every tool
// sorted by name when names is empty. Unknown names are skipped.
func (r *Registry) Tools(names ...string) []types.Tool {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]types.Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.Tool(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// Subset returns a registry holding only names.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	out := &Registry{byName: make(map[string]entry, len(names))}
	for _, name := range names {
		e, ok := r.lookup(name)
		if !ok {
			return nil, core.NewConfigurationError(fmt.Sprintf("unknown tool %q", name))
		}
		out.byName[name] = e
	}
	return out, nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	if r == nil {
		return entry{}, false
	}
	e, ok := r.byName[name]
	return e, ok
}

// Result is the discriminated outcome of one tool execution.
type Result struct {
	Output any
	Err    *core.Error
}

func (r Result) OK() bool { return r.Err == nil }

// JSON renders the result as the function_call_output payload.
func (r Result) JSON() string {
	var v any = r.Output
	if r.Err != nil {
		body := map[string]any{"error": r.Err.Message, "type": r.Err.Type}
		if r.Err.Param != "" {
			body["param"] = r.Err.Param
		}
		v = body
	}
	if v == nil {
		v = map[string]any{}
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, "tool output is not serializable")
	}
	return string(data)
}

// Execute decodes rawArgs, validates them and runs the handler. It never
// returns an error and never panics; every failure is carried in Result.Err.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string, tc *Context) Result {
	e, ok := r.lookup(name)
	if !ok {
		return Result{Err: &core.Error{Type: core.ErrInvalidRequest, Message: fmt.Sprintf("unknown tool %q", name), Code: "unknown_tool"}}
	}

	input := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &input); err != nil {
			return Result{Err: core.NewValidationError(fmt.Sprintf("arguments for %q are not a JSON object", name), "arguments")}
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	if err := e.resolved.Validate(input); err != nil {
		return Result{Err: core.NewValidationError(fmt.Sprintf("invalid arguments for %q: %v", name, err), "arguments")}
	}
	return run(ctx, e.def, input, tc)
}

func run(ctx context.Context, def Definition, input map[string]any, tc *Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Err: &core.Error{Type: core.ErrAPI, Message: fmt.Sprintf("tool %q panicked: %v", def.Name, p), Code: "tool_panic"}}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result{Err: contextError(def.Name, err)}
	}
	out, err := def.Handler(ctx, input, tc)
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce != nil {
			return Result{Err: ce}
		}
		if ctx.Err() != nil {
			return Result{Err: contextError(def.Name, ctx.Err())}
		}
		return Result{Err: &core.Error{Type: core.ErrAPI, Message: err.Error(), Code: "tool_failed"}}
	}
	return Result{Output: out}
}

func contextError(name string, err error) *core.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{Type: core.ErrAPI, Message: fmt.Sprintf("tool %q timed out", name), Code: "tool_timeout"}
	}
	return &core.Error{Type: core.ErrAPI, Message: fmt.Sprintf("tool %q was canceled", name), Code: "tool_canceled"}
}
