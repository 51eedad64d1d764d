package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/plugrpc/internal/capability"
)

const (
	supportedProtocol = 2
	manifestFilename  = "manifest.yaml"
)

// Registry holds discovered plugins indexed by name.
type Registry struct {
	plugins map[string]*Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Sorted returns all registered plugins ordered by name.
func (r *Registry) Sorted() []*Plugin {
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a plugin in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	return nil
}

// Discover scans plugin roots for manifest.yaml files and validates plugins.
// Roots are processed in input order; duplicate plugin names keep the first
// discovered plugin. Invalid plugins are reported through logger, not fatal.
func Discover(pluginRoots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoots, err := resolveRoots(pluginRoots)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)
			plugin, err := Load(pluginPath, root)
			if err != nil {
				logger("warn", "failed to load plugin", "root", root, "path", pluginPath, "error", err.Error())
				return nil
			}

			if err := registry.Add(plugin); err != nil {
				existing, _ := registry.Get(plugin.Name)
				logger(
					"warn",
					"duplicate plugin ignored (keeping first discovered)",
					"plugin", plugin.Name,
					"ignored_path", plugin.Path,
					"kept_path", existing.Path,
				)
				return nil
			}

			logger("info", "loaded plugin", "plugin", plugin.Name, "path", plugin.Path, "version", plugin.Version, "protocol", plugin.Protocol)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return registry, nil
}

func resolveRoots(pluginRoots []string) ([]string, error) {
	absRoots := make([]string, 0, len(pluginRoots))
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}
	return absRoots, nil
}

// Load reads and validates the plugin in pluginPath. root is the directory
// the entrypoint must stay under; empty means the plugin's parent directory.
func Load(pluginPath, root string) (*Plugin, error) {
	pluginPath, err := filepath.Abs(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin path: %w", err)
	}
	if root == "" {
		root = filepath.Dir(pluginPath)
	}

	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	if manifest.Protocol != supportedProtocol {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, supportedProtocol)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypointPath, pluginPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Kind:        capability.Kind(manifest.Kind),
		Description: manifest.Description,
		Manifest:    manifest,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !capability.Kind(m.Kind).Valid() {
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if len(m.Operations) == 0 {
		return fmt.Errorf("at least one operation must be declared")
	}

	seen := make(map[string]bool, len(m.Operations))
	for _, op := range m.Operations {
		if op.Name == "" {
			return fmt.Errorf("operation name is required")
		}
		if strings.Contains(op.Name, ".") {
			return fmt.Errorf("operation %q must not be qualified", op.Name)
		}
		if seen[op.Name] {
			return fmt.Errorf("operation %q declared twice", op.Name)
		}
		seen[op.Name] = true
		if op.Arity != nil && *op.Arity < 0 {
			return fmt.Errorf("operation %q: arity must not be negative", op.Name)
		}
		if _, err := capability.ParseShape(op.Returns); err != nil {
			return fmt.Errorf("operation %q: %w", op.Name, err)
		}
	}

	return nil
}

// validateTrust enforces that the entrypoint is an executable inside the
// plugin directory, under root, and that the plugin directory is not
// world-writable.
func validateTrust(entrypointPath, pluginPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin root %s", resolvedEntrypoint, resolvedRoot)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
