package plugin

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/plugrpc/internal/capability"
)

// OperationDecl declares an operation a plugin promises to serve.
type OperationDecl struct {
	Name        string `yaml:"name"`
	Arity       *int   `yaml:"arity,omitempty"`
	Returns     string `yaml:"returns,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Operations is a list of declared operations.
//
// Accepted formats:
//   - string array: operations: [Send, SendBatch]
//   - object array: operations: [{name: Send, arity: 2, returns: void}]
type Operations []OperationDecl

func (o *Operations) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*o = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("operations must be a sequence")
	}

	out := make([]OperationDecl, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, OperationDecl{Name: strings.TrimSpace(item.Value)})
		case yaml.MappingNode:
			var tmp OperationDecl
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid operation object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid operation entry (must be string or object)")
		}
	}

	*o = out
	return nil
}

// Names returns the declared names in manifest order.
func (o Operations) Names() []string {
	names := make([]string, 0, len(o))
	for _, op := range o {
		names = append(names, op.Name)
	}
	return names
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string     `yaml:"name"`
	Version     string     `yaml:"version"`
	Kind        string     `yaml:"kind"`
	Protocol    int        `yaml:"protocol"`
	Entrypoint  string     `yaml:"entrypoint"`
	Description string     `yaml:"description,omitempty"`
	Operations  Operations `yaml:"operations"`
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Resolver is satisfied by *capability.Table.
type Resolver interface {
	Resolve(method string) (capability.Operation, error)
}

// Verify checks every declared operation against the bound method table:
// it must exist, and declared arity and return shape must match.
func (m *Manifest) Verify(table Resolver) error {
	var errs []error
	for _, decl := range m.Operations {
		op, err := table.Resolve(decl.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %s: not served", decl.Name))
			continue
		}
		if decl.Arity != nil && *decl.Arity != op.Arity {
			errs = append(errs, fmt.Errorf("operation %s: manifest arity %d, served %d", decl.Name, *decl.Arity, op.Arity))
		}
		if decl.Returns != "" && decl.Returns != op.Returns.String() {
			errs = append(errs, fmt.Errorf("operation %s: manifest returns %s, served %s", decl.Name, decl.Returns, op.Returns))
		}
	}
	return errors.Join(errs...)
}

// VerifyNames checks declared operations against the names a running plugin
// reports through GetInfo.
func (m *Manifest) VerifyNames(served []string) error {
	have := make(map[string]bool, len(served))
	for _, name := range served {
		have[name] = true
	}
	var errs []error
	for _, decl := range m.Operations {
		if !have[decl.Name] {
			errs = append(errs, fmt.Errorf("operation %s: not served", decl.Name))
		}
	}
	return errors.Join(errs...)
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	Name        string          // Plugin name from manifest
	Path        string          // Absolute path to plugin directory
	Entrypoint  string          // Absolute path to entrypoint executable
	Protocol    int             // Application protocol version
	Version     string          // Plugin version
	Kind        capability.Kind // Category reported to hosts
	Description string
	Manifest    *Manifest
}

// Declares reports whether the manifest lists op.
func (p *Plugin) Declares(op string) bool {
	for _, decl := range p.Manifest.Operations {
		if decl.Name == op {
			return true
		}
	}
	return false
}
