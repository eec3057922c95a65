// Package scenarios loads data-driven agent scenarios and binds them to the
// Go tool library.
package scenarios

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-agents/pkg/agents"
	"github.com/vango-go/vai-agents/pkg/core"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// SupervisorSpec configures the escalation tool of a scenario.
type SupervisorSpec struct {
	Model        string   `yaml:"model" json:"model,omitempty"`
	Instructions string   `yaml:"instructions" json:"instructions"`
	Tools        []string `yaml:"tools" json:"tools"`
}

type Scenario struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description,omitempty"`
	Library     string          `yaml:"library" json:"library,omitempty"`
	CompanyName string          `yaml:"company_name" json:"company_name,omitempty"`
	Greeting    string          `yaml:"greeting" json:"greeting,omitempty"`
	Agents      []agents.Agent  `yaml:"agents" json:"agents"`
	Supervisor  *SupervisorSpec `yaml:"supervisor,omitempty" json:"supervisor,omitempty"`

	// Source is "built-in" or the override file path.
	Source string `yaml:"-" json:"source"`
}

// Parse decodes one scenario document. Unknown keys are rejected so typos in
// override files fail loudly.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.NewConfigurationError("scenario document is empty")
		}
		return nil, core.NewConfigurationError(fmt.Sprintf("invalid scenario yaml: %v", err))
	}
	sc.Name = strings.TrimSpace(sc.Name)
	if sc.Name == "" {
		return nil, core.NewConfigurationError("scenario name is required")
	}
	return &sc, nil
}

// Builtin returns the embedded scenarios sorted by name.
func Builtin() ([]*Scenario, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, err
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("built-in scenario %s: %w", e.Name(), err)
		}
		sc.Source = "built-in"
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadDir reads every *.yaml / *.yml file in dir. A missing dir yields no
// scenarios.
func LoadDir(dir string) ([]*Scenario, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", path, err)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", path, err)
		}
		sc.Source = path
		out = append(out, sc)
	}
	return out, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// AgentNames lists agents in declaration order; the first is the default
// entry point.
func (s *Scenario) AgentNames() []string {
	out := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		out = append(out, a.Name)
	}
	return out
}
