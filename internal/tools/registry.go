// File: internal/tools/registry.go
package tools

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Tools []schemas.ToolDefinition `yaml:"tools"`
}

// Registry is the tool catalog. Lookups accept a tool name or any of its
// aliases, case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]schemas.ToolDefinition
	aliases map[string]string
	logger  *zap.Logger
}

var _ schemas.ToolRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]schemas.ToolDefinition),
		aliases: make(map[string]string),
		logger:  logger.Named("tool_registry"),
	}
}

// LoadRegistry builds the registry from the embedded default catalog and then
// overlays the catalog file named in the configuration, if any.
func LoadRegistry(cfg config.ToolsConfig, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if err := r.LoadYAML(defaultCatalog); err != nil {
		return nil, fmt.Errorf("failed to load embedded tool catalog: %w", err)
	}

	if cfg.CatalogPath != "" {
		data, err := os.ReadFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read tool catalog '%s': %w", cfg.CatalogPath, err)
		}
		if err := r.LoadYAML(data); err != nil {
			return nil, fmt.Errorf("failed to load tool catalog '%s': %w", cfg.CatalogPath, err)
		}
	}

	r.logger.Info("Tool catalog loaded.", zap.Int("tools", r.Len()))
	return r, nil
}

// LoadYAML parses a catalog document and registers every tool in it.
func (r *Registry) LoadYAML(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid catalog yaml: %w", err)
	}
	for _, def := range file.Tools {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a tool definition. An alias that already points
// at a different tool is rejected.
func (r *Registry) Register(def schemas.ToolDefinition) error {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.aliases[name]; ok && owner != name {
		return fmt.Errorf("tool name '%s' is already an alias of '%s'", name, owner)
	}
	for _, alias := range def.Aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" || a == name {
			continue
		}
		if _, clash := r.tools[a]; clash {
			return fmt.Errorf("alias '%s' of tool '%s' collides with a tool name", a, name)
		}
		if owner, ok := r.aliases[a]; ok && owner != name {
			return fmt.Errorf("alias '%s' of tool '%s' is already used by '%s'", a, name, owner)
		}
	}

	// Replacing a tool drops its previous aliases.
	if old, ok := r.tools[name]; ok {
		for _, alias := range old.Aliases {
			delete(r.aliases, strings.ToLower(strings.TrimSpace(alias)))
		}
	}
	r.tools[name] = def
	for _, alias := range def.Aliases {
		if a := strings.ToLower(strings.TrimSpace(alias)); a != "" && a != name {
			r.aliases[a] = name
		}
	}
	return nil
}

// Get returns the definition for a tool name or alias.
func (r *Registry) Get(name string) (schemas.ToolDefinition, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.tools[key]; ok {
		return def, true
	}
	if canonical, ok := r.aliases[key]; ok {
		def, ok := r.tools[canonical]
		return def, ok
	}
	return schemas.ToolDefinition{}, false
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []schemas.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ByCategory returns the tools in a category, ordered by priority then name.
func ByCategory(reg schemas.ToolRegistry, category string) []schemas.ToolDefinition {
	var out []schemas.ToolDefinition
	for _, def := range reg.List() {
		if strings.EqualFold(def.Category, category) {
			out = append(out, def)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		if pi == 0 {
			pi = 99
		}
		if pj == 0 {
			pj = 99
		}
		return pi < pj
	})
	return out
}

// Names returns every tool name and alias known to the registry, sorted.
func Names(reg schemas.ToolRegistry) []string {
	var out []string
	for _, def := range reg.List() {
		out = append(out, def.Name)
		for _, a := range def.Aliases {
			out = append(out, strings.ToLower(a))
		}
	}
	sort.Strings(out)
	return out
}
