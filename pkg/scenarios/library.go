package scenarios

import (
	"fmt"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/tools"
)

// libraries maps a scenario's library key to its Go tool definitions.
var libraries = map[string]func() []tools.Definition{
	"":          func() []tools.Definition { return nil },
	"retail":    retailTools,
	"accounts":  accountTools,
	"materials": materialTools,
}

// Libraries lists the registered tool library keys.
func Libraries() []string {
	return []string{"accounts", "materials", "retail"}
}

func libraryFor(key string) (*tools.Registry, error) {
	build, ok := libraries[key]
	if !ok {
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown tool library %q", key))
	}
	return tools.NewRegistry(build()...)
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

// intArg reads a JSON number; def applies when the key is absent.
func intArg(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
