package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Parameter describes one input of a tool.
type Parameter struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
	Required    bool   `yaml:"required" json:"required"`
}

// Tool is an entry in the tool registry. Tool execution itself is simulated
// by the reasoning service; the registry only names what a plan may request.
type Tool struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description" json:"description"`
	Parameters  map[string]Parameter `yaml:"parameters" json:"parameters"`
}

// DefaultTools returns the built-in tool set.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "web_search",
			Description: "Search the web for information",
			Parameters: map[string]Parameter{
				"query":       {Type: "string", Description: "Search query", Required: true},
				"max_results": {Type: "number", Description: "Maximum number of results to return"},
			},
		},
		{
			Name:        "fetch_url",
			Description: "Fetch content from a URL",
			Parameters: map[string]Parameter{
				"url": {Type: "string", Description: "URL to fetch", Required: true},
			},
		},
		{
			Name:        "extract_data",
			Description: "Extract structured data from text",
			Parameters: map[string]Parameter{
				"text":   {Type: "string", Description: "Text to extract from", Required: true},
				"schema": {Type: "object", Description: "Shape of the data to extract"},
			},
		},
		{
			Name:        "calculate",
			Description: "Perform mathematical calculations",
			Parameters: map[string]Parameter{
				"expression": {Type: "string", Description: "Math expression", Required: true},
			},
		},
	}
}

// Registry is a read-mostly set of tools. Replace swaps the whole set, so
// readers always observe a consistent snapshot.
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
	index map[string]int
}

// New creates a registry populated with tools. Pass DefaultTools() for the
// built-in set.
func New(tools []Tool) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(tools); err != nil {
		return nil, err
	}
	return r, nil
}

// NewDefault creates a registry with the built-in tool set.
func NewDefault() *Registry {
	r, _ := New(DefaultTools())
	return r
}

// Replace validates and installs a new tool set.
func (r *Registry) Replace(tools []Tool) error {
	if len(tools) == 0 {
		return fmt.Errorf("tool registry must not be empty")
	}
	index := make(map[string]int, len(tools))
	cp := make([]Tool, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if _, dup := index[name]; dup {
			return fmt.Errorf("duplicate tool %q", name)
		}
		t.Name = name
		index[name] = len(cp)
		cp = append(cp, t)
	}
	r.mu.Lock()
	r.tools = cp
	r.index = index
	r.mu.Unlock()
	return nil
}

// Has reports whether name is a known tool.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// List returns a copy of the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tool(nil), r.tools...)
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

// SortedParameterNames returns parameter names of t in stable order.
func (t Tool) SortedParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for n := range t.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
