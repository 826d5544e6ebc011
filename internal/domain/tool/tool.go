package tool

import "context"

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Result is the outcome of one tool execution. Type coercion of
// arguments is the tool's own responsibility.
type Result struct {
	Output any
	Error  string
}

// Tool is the contract every tool implements.
type Tool interface {
	Name() string
	Description() string
	Category() string
	Parameters() []ParamSpec
	RequiresConfirmation() bool
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Descriptor is the immutable metadata recorded at registration.
type Descriptor struct {
	Name                 string
	Description          string
	Category             string
	RequiresConfirmation bool
	Parameters           []ParamSpec
	Version              string
}

// DescriptorOf extracts a Descriptor from a tool.
func DescriptorOf(t Tool) Descriptor {
	return Descriptor{
		Name:                 t.Name(),
		Description:          t.Description(),
		Category:             t.Category(),
		RequiresConfirmation: t.RequiresConfirmation(),
		Parameters:           t.Parameters(),
		Version:              "1.0",
	}
}
