// Package agents holds agent descriptors and the validated handoff graph.
package agents

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/tools"
)

// HandoffToolPrefix names the structural tool the model calls to transfer
// control, e.g. transfer_to_returns.
const HandoffToolPrefix = "transfer_to_"

type Agent struct {
	Name               string   `json:"name" yaml:"name"`
	Voice              string   `json:"voice,omitempty" yaml:"voice"`
	Instructions       string   `json:"instructions" yaml:"instructions"`
	Tools              []string `json:"tools,omitempty" yaml:"tools"`
	Handoffs           []string `json:"handoffs,omitempty" yaml:"handoffs"`
	HandoffDescription string   `json:"handoff_description,omitempty" yaml:"handoff_description"`
}

// Snapshot is the static config recorded in the handoff breadcrumb.
func (a Agent) Snapshot() map[string]any {
	return map[string]any{
		"name":                a.Name,
		"voice":               a.Voice,
		"instructions":        a.Instructions,
		"tools":               append([]string(nil), a.Tools...),
		"handoffs":            append([]string(nil), a.Handoffs...),
		"handoff_description": a.HandoffDescription,
	}
}

func (a Agent) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Graph is an immutable, validated agent set. Cycles are allowed.
type Graph struct {
	order    []string
	byName   map[string]Agent
	library  *tools.Registry
	handoffs map[string]string
}

// NewGraph validates agents against the tool library. Duplicate names,
// handoffs to unknown agents, self handoffs and unknown tools all fail here
// rather than at first use.
func NewGraph(agents []Agent, library *tools.Registry) (*Graph, error) {
	if len(agents) == 0 {
		return nil, core.NewConfigurationError("agent graph requires at least one agent")
	}
	g := &Graph{
		order:    make([]string, 0, len(agents)),
		byName:   make(map[string]Agent, len(agents)),
		library:  library,
		handoffs: make(map[string]string, len(agents)),
	}
	for i, a := range agents {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return nil, core.NewConfigurationError(fmt.Sprintf("agents[%d] has no name", i))
		}
		if _, dup := g.byName[a.Name]; dup {
			return nil, core.NewConfigurationError(fmt.Sprintf("duplicate agent %q", a.Name))
		}
		g.order = append(g.order, a.Name)
		g.byName[a.Name] = a
		g.handoffs[HandoffToolPrefix+a.Name] = a.Name
	}
	for _, name := range g.order {
		a := g.byName[name]
		seen := make(map[string]struct{}, len(a.Handoffs))
		for _, target := range a.Handoffs {
			if target == a.Name {
				return nil, core.NewConfigurationError(fmt.Sprintf("agent %q hands off to itself", a.Name))
			}
			if _, ok := g.byName[target]; !ok {
				return nil, core.NewConfigurationError(fmt.Sprintf("agent %q hands off to unknown agent %q", a.Name, target))
			}
			if _, dup := seen[target]; dup {
				return nil, core.NewConfigurationError(fmt.Sprintf("agent %q lists handoff %q twice", a.Name, target))
			}
			seen[target] = struct{}{}
		}
		for _, tool := range a.Tools {
			if strings.HasPrefix(tool, HandoffToolPrefix) {
				return nil, core.NewConfigurationError(fmt.Sprintf("agent %q tool %q uses the reserved handoff prefix", a.Name, tool))
			}
			if !library.Has(tool) {
				return nil, core.NewConfigurationError(fmt.Sprintf("agent %q references unknown tool %q", a.Name, tool))
			}
		}
	}
	return g, nil
}

// WithEntryPoint returns a copy whose entry agent is name. The receiver is
// not modified.
func (g *Graph) WithEntryPoint(name string) (*Graph, error) {
	if _, ok := g.byName[name]; !ok {
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown agent %q", name))
	}
	cp := *g
	cp.order = make([]string, 0, len(g.order))
	cp.order = append(cp.order, name)
	for _, n := range g.order {
		if n != name {
			cp.order = append(cp.order, n)
		}
	}
	return &cp, nil
}

func (g *Graph) EntryAgent() Agent {
	return g.byName[g.order[0]]
}

func (g *Graph) Agent(name string) (Agent, bool) {
	a, ok := g.byName[name]
	return a, ok
}

// Agents returns every agent in configured order.
func (g *Graph) Agents() []Agent {
	out := make([]Agent, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, g.byName[n])
	}
	return out
}

// Library is the tool registry shared by the graph's agents.
func (g *Graph) Library() *tools.Registry {
	return g.library
}

// CanHandoff reports whether from lists to as a handoff target.
func (g *Graph) CanHandoff(from, to string) bool {
	a, ok := g.byName[from]
	if !ok {
		return false
	}
	for _, t := range a.Handoffs {
		if t == to {
			return true
		}
	}
	return false
}

// HandoffTarget maps a structural handoff tool name to its target agent.
func (g *Graph) HandoffTarget(toolName string) (string, bool) {
	target, ok := g.handoffs[toolName]
	return target, ok
}

// ToolsFor returns the model-facing tool menu of agent: its own tools followed
// by one handoff tool per permitted target.
func (g *Graph) ToolsFor(agent string) []types.Tool {
	a, ok := g.byName[agent]
	if !ok {
		return nil
	}
	var out []types.Tool
	if len(a.Tools) > 0 {
		out = g.library.Tools(a.Tools...)
	}
	for _, target := range a.Handoffs {
		out = append(out, handoffTool(g.byName[target]))
	}
	return out
}

func handoffTool(target Agent) types.Tool {
	desc := "Transfer the conversation to the " + target.Name + " agent."
	if target.HandoffDescription != "" {
		desc += " " + target.HandoffDescription
	}
	return types.FunctionTool(HandoffToolPrefix+target.Name, desc, tools.Object(nil))
}
