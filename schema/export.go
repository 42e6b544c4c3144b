package schema

import "github.com/ggoodman/mcp-dispatch-go/mcp"

// InputSchema renders params as a tool input schema.
func (ps Params) InputSchema(allowAdditional bool) mcp.ToolInputSchema {
	props, required := ps.properties()
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// OutputSchema renders params as a tool output schema.
func (ps Params) OutputSchema() *mcp.ToolOutputSchema {
	props, required := ps.properties()
	return &mcp.ToolOutputSchema{Type: "object", Properties: props, Required: required}
}

// PromptArguments renders params as prompt argument descriptors.
func (ps Params) PromptArguments() []mcp.PromptArgument {
	out := make([]mcp.PromptArgument, 0, len(ps))
	for _, p := range ps {
		out = append(out, mcp.PromptArgument{Name: p.Name, Description: p.Description, Required: p.Required})
	}
	return out
}

func (ps Params) properties() (map[string]mcp.SchemaProperty, []string) {
	props := make(map[string]mcp.SchemaProperty, len(ps))
	var required []string
	for _, p := range ps {
		props[p.Name] = p.Property()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return props, required
}

// Property renders a single descriptor as a schema node.
func (p Param) Property() mcp.SchemaProperty {
	sp := mcp.SchemaProperty{
		Type:        p.Type.JSONType(),
		Description: p.Description,
		Minimum:     p.Minimum,
		Maximum:     p.Maximum,
		Pattern:     p.Pattern,
		Default:     p.Default,
	}
	if len(p.Choices) > 0 {
		sp.Enum = append([]any(nil), p.Choices...)
	}
	switch p.Type {
	case TypeRecord:
		sp.Properties, sp.Required = p.Fields.properties()
	case TypeSequence:
		if p.Items != nil {
			items := p.Items.Property()
			sp.Items = &items
		}
	case TypeMapping:
		if p.Values != nil {
			values := p.Values.Property()
			sp.AdditionalProperties = &values
		}
	}
	return sp
}
