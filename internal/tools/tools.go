// Package tools defines the tool interface, registry, and dispatcher.
// Each tool declares the resource type it reads so the dispatcher can
// enforce permission checks before execution.
package tools

import (
	"context"
	"sync"

	"github.com/finsight-ai/finsight/internal/llm"
)

// Tool is the interface all tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "get_revenue").
	Name() string

	// Description returns the description sent to the model.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, sent to the model for function calling.
	InputSchema() map[string]any

	// Resource returns the resource type the dispatcher checks read
	// permission on before execution. Empty means no check.
	Resource() string

	// Execute runs the tool. The returned string is handed back to the
	// model as the tool result.
	Execute(ctx context.Context, args map[string]any, inv Invocation) (string, error)
}

// Invocation carries the caller identity and session context into a tool.
type Invocation struct {
	SessionID      string
	Subject        string
	CompanyContext string
}

// MaxOutputBytes caps tool output handed back to the model.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice
// if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds available tools keyed by name. Thread-safe for concurrent
// reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error,
// not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// ToLLMDefinitions converts all registered tools into model tool
// definitions.
func ToLLMDefinitions(reg *Registry) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
