package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

type registration struct {
	definition ToolDefinition
	invoke     func(context.Context, json.RawMessage) (ToolResult, error)
}

// Registry holds typed tools in registration order.
type Registry struct {
	tools []registration
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddTool registers a handler whose input schema is reflected from T's json
// and jsonschema tags. Handler errors become isError results.
func AddTool[T any](registry *Registry, name, description string, handler func(context.Context, T) (ToolResult, error)) {
	invoke := func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
		var params T
		if len(strings.TrimSpace(string(args))) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return ToolResult{}, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
		}
		result, err := handler(ctx, params)
		if err != nil {
			return ToolResult{Content: []Content{TextContent(err.Error())}, IsError: true}, nil
		}
		return result, nil
	}

	registry.tools = append(registry.tools, registration{
		definition: ToolDefinition{Name: name, Description: description, InputSchema: schemaFor[T]()},
		invoke:     invoke,
	})
}

// Definitions lists the registered tools.
func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.tools))
	for i, tool := range r.tools {
		out[i] = tool.definition
	}
	return out
}

// Call invokes a tool by name. Unknown tools produce an isError result.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, tool := range r.tools {
		if tool.definition.Name == name {
			return tool.invoke(ctx, args)
		}
	}
	return ToolResult{Content: []Content{TextContent(fmt.Sprintf("Unknown tool: %s", name))}, IsError: true}, nil
}

func schemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(zero)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("generate schema for %T: %v", zero, err))
	}
	return data
}
