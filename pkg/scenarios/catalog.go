package scenarios

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-agents/pkg/agents"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/metrics"
	"github.com/vango-go/vai-agents/pkg/supervisor"
	"github.com/vango-go/vai-agents/pkg/tools"
)

// Toolkit carries the runtime collaborators that Go tools need. A nil
// Responder still yields valid graphs; escalation then fails with the
// supervisor fallback message.
type Toolkit struct {
	Responder         supervisor.Responder
	SupervisorModel   string
	MaxIterations     int
	SupervisorTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Catalog is an immutable, validated set of scenarios.
type Catalog struct {
	scenarios map[string]*Scenario
	graphs    map[string]*agents.Graph
}

// Summary is the listing view of a scenario.
type Summary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
	EntryAgent  string   `json:"entry_agent"`
	Agents      []string `json:"agents"`
	Supervisor  bool     `json:"supervisor,omitempty"`
	Source      string   `json:"source"`
}

// Load builds a catalog from the embedded scenarios plus overrides in dir.
// An override replaces the built-in scenario of the same name.
func Load(dir string, kit Toolkit) (*Catalog, error) {
	list, err := Builtin()
	if err != nil {
		return nil, err
	}
	overrides, err := LoadDir(dir)
	if err != nil {
		return nil, core.NewConfigurationError(err.Error())
	}
	return NewCatalog(append(list, overrides...), kit)
}

// NewCatalog validates every scenario by building its graph. Later entries
// win on duplicate names.
func NewCatalog(list []*Scenario, kit Toolkit) (*Catalog, error) {
	c := &Catalog{
		scenarios: make(map[string]*Scenario, len(list)),
		graphs:    make(map[string]*agents.Graph, len(list)),
	}
	for _, sc := range list {
		if sc == nil {
			continue
		}
		g, err := buildGraph(sc, kit)
		if err != nil {
			return nil, core.NewConfigurationError(fmt.Sprintf("scenario %q: %v", sc.Name, err))
		}
		c.scenarios[sc.Name] = sc
		c.graphs[sc.Name] = g
	}
	if len(c.scenarios) == 0 {
		return nil, core.NewConfigurationError("no scenarios configured")
	}
	return c, nil
}

func buildGraph(sc *Scenario, kit Toolkit) (*agents.Graph, error) {
	lib, err := libraryFor(sc.Library)
	if err != nil {
		return nil, err
	}
	if sc.Supervisor != nil {
		local, err := lib.Subset(sc.Supervisor.Tools...)
		if err != nil {
			return nil, err
		}
		model := sc.Supervisor.Model
		if model == "" {
			model = kit.SupervisorModel
		}
		esc := &supervisor.Escalator{
			Responder:     kit.Responder,
			Model:         model,
			Instructions:  sc.Supervisor.Instructions,
			Local:         local,
			MaxIterations: kit.MaxIterations,
			Timeout:       kit.SupervisorTimeout,
			Logger:        kit.Logger,
			Metrics:       kit.Metrics,
		}
		escalation, err := tools.NewRegistry(esc.Definition())
		if err != nil {
			return nil, err
		}
		if lib, err = tools.Merge(lib, escalation); err != nil {
			return nil, err
		}
	}
	return agents.NewGraph(sc.Agents, lib)
}

// Names returns scenario names sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.scenarios))
	for name := range c.scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Scenario(name string) (*Scenario, bool) {
	sc, ok := c.scenarios[name]
	return sc, ok
}

// Graph returns the validated graph for name, entered at entryAgent when set.
// Unknown scenarios and agents are configuration errors.
func (c *Catalog) Graph(name, entryAgent string) (*agents.Graph, error) {
	g, ok := c.graphs[name]
	if !ok {
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown scenario %q", name))
	}
	if strings.TrimSpace(entryAgent) == "" {
		return g, nil
	}
	return g.WithEntryPoint(strings.TrimSpace(entryAgent))
}

func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.scenarios))
	for _, name := range c.Names() {
		sc := c.scenarios[name]
		out = append(out, Summary{
			Name:        sc.Name,
			Description: sc.Description,
			CompanyName: sc.CompanyName,
			EntryAgent:  c.graphs[name].EntryAgent().Name,
			Agents:      sc.AgentNames(),
			Supervisor:  sc.Supervisor != nil,
			Source:      sc.Source,
		})
	}
	return out
}

// Holder publishes the current catalog to concurrent readers.
type Holder struct {
	v atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.v.Store(c)
	return h
}

func (h *Holder) Load() *Catalog {
	if h == nil {
		return nil
	}
	return h.v.Load()
}

func (h *Holder) Store(c *Catalog) {
	if c != nil {
		h.v.Store(c)
	}
}
