// Package tools defines the function tools the agent can call and the
// registry that dispatches tool calls by name.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/sorryformyhair/dmflow/internal/providers"
)

// Tool is one function the LLM may invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the available tools. It is populated at startup and
// read-only afterwards, so no locking is needed.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool. An unknown tool name yields an error result
// fed back to the LLM rather than a hard failure, so the model can correct
// itself on the next iteration.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("error: unknown tool %q", name))
	}
	return t.Execute(ctx, args)
}

// Definitions returns the function schemas in stable name order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
