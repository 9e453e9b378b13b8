package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"reasond/internal/core"
)

// DefaultEvaluatorTool names the tool that receives bridge payloads without
// an explicit "tool" key.
const DefaultEvaluatorTool = "evaluate"

// Manager is a thread-safe tool registry. Tool execution never holds the
// registry lock, so tools may re-enter the registry or the session layer.
type Manager struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	defaultTool string
}

// NewManager builds an empty registry. defaultTool may be empty, in which
// case DefaultEvaluatorTool applies.
func NewManager(defaultTool string) *Manager {
	if defaultTool == "" {
		defaultTool = DefaultEvaluatorTool
	}
	return &Manager{
		tools:       make(map[string]Tool),
		defaultTool: defaultTool,
	}
}

// Register adds a tool. Registering an unnamed tool, a tool without an
// Execute function, or a duplicate name is an error.
func (m *Manager) Register(t Tool) error {
	if t.Name == "" {
		return core.NewError(core.KindValidation, "tool name must not be empty")
	}
	if t.Execute == nil {
		return core.NewError(core.KindValidation, "tool %q has no execute function", t.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[t.Name]; exists {
		return core.NewError(core.KindValidation, "tool %q is already registered", t.Name)
	}
	m.tools[t.Name] = t
	return nil
}

// MustRegister panics on registration failure. Intended for process startup.
func (m *Manager) MustRegister(t Tool) {
	if err := m.Register(t); err != nil {
		panic(fmt.Sprintf("toolbox: %v", err))
	}
}

// Get looks a tool up by name.
func (m *Manager) Get(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

// List returns tool metadata sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, Info{Name: t.Name, Description: t.Description, Category: t.Category})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a named tool. The registry lock is released before the tool
// runs.
func (m *Manager) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := m.Get(name)
	if !ok {
		return nil, core.NewError(core.KindToolError, "tool %q is not registered", name)
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return nil, core.WrapError(core.KindToolError, err, "tool %q failed: %v", name, err)
	}
	return out, nil
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(DefaultEvaluatorTool)
	})
	return defaultManager
}
