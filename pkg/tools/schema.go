package tools

import "github.com/google/jsonschema-go/jsonschema"

// Schema helpers for tool parameter descriptors.

func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func Enum(description string, values ...string) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

func Integer(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func Number(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}

func Boolean(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}

func Array(description string, items *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: description, Items: items}
}

// Object builds an object schema. Required string properties get a minimum
// length of one so empty placeholders fail validation instead of reaching the
// handler.
// The caller's map and schemas are left untouched.
func Object(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(properties))
	for name, p := range properties {
		props[name] = p
	}
	for _, name := range required {
		p, ok := props[name]
		if !ok || p == nil || p.Type != "string" || p.MinLength != nil {
			continue
		}
		one := 1
		cp := *p
		cp.MinLength = &one
		props[name] = &cp
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), required...),
	}
}
