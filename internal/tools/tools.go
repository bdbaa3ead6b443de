// Package tools defines the tool interface and registry for Fundi.
// Tools are injected by the embedding host (an editor, a gateway, tests)
// and advertised to the model as function-calling definitions.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/jkaninda/fundi/internal/anthropic"
)

// Tool is the interface all Fundi tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "read_editor").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, sent to the model as the tool's input_schema.
	InputSchema() map[string]any

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution. IsError marks a domain
// failure the model should see and react to, as opposed to a transport
// error returned from Execute.
type Result struct {
	Output  string
	IsError bool
}

// MaxOutputBytes is the default cap for tool output sent back to the
// model.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
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

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
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

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions converts all registered tools into wire tool definitions.
// Order is stable (sorted by name): the client marks the final definition
// as a prompt-cache breakpoint, so ordering must not shift between turns.
func (r *Registry) Definitions() []anthropic.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]anthropic.Tool, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, anthropic.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Func adapts a plain function into a Tool. Embedders use it to expose
// host capabilities without defining a type per tool.
type Func struct {
	ToolName string
	ToolDesc string
	Schema   map[string]any
	Run      func(ctx context.Context, params map[string]any) (*Result, error)
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.ToolDesc }
func (f *Func) InputSchema() map[string]any { return f.Schema }

func (f *Func) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	return f.Run(ctx, params)
}
