package types

import "github.com/google/jsonschema-go/jsonschema"

// Tool is the descriptor a model sees for a callable function.
type Tool struct {
	Type        string             `json:"type"` // "function"
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

const ToolTypeFunction = "function"

// FunctionTool builds a function tool descriptor.
func FunctionTool(name, description string, params *jsonschema.Schema) Tool {
	return Tool{
		Type:        ToolTypeFunction,
		Name:        name,
		Description: description,
		Parameters:  params,
	}
}
