// Package manifest loads module manifests and pipeline documents into
// validated in-memory models. Documents are YAML by default; pipeline
// documents may also be written in HCL, selected by file extension, behind
// the same loading entry points.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// ManifestFileName is the manifest document inside a module directory.
const ManifestFileName = "module.yaml"

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Port is one declared input or output of a module.
type Port struct {
	Name        string
	Type        typeexpr.Type
	RawType     string
	Description string
	// Trigger marks the wake-up input of an on_trigger slot. At most one
	// input may carry it.
	Trigger bool
}

// Requirement is a declared dependency of a module.
type Requirement struct {
	Name    string
	Version string
}

// Runtime names the module's entry points.
type Runtime struct {
	Main  string
	Tests string
}

// Manifest describes one module on disk.
type Manifest struct {
	Name         string
	Alias        string
	Creator      string
	Version      string
	Description  string
	Repository   string
	Runtime      Runtime
	Requirements []Requirement
	Inputs       []Port
	Outputs      []Port
}

// Input looks up a declared input by name.
func (m *Manifest) Input(name string) (*Port, bool) {
	for i := range m.Inputs {
		if m.Inputs[i].Name == name {
			return &m.Inputs[i], true
		}
	}
	return nil, false
}

// Output looks up a declared output by name.
func (m *Manifest) Output(name string) (*Port, bool) {
	for i := range m.Outputs {
		if m.Outputs[i].Name == name {
			return &m.Outputs[i], true
		}
	}
	return nil, false
}

// TriggerInput returns the input marked trigger, if exactly one exists.
func (m *Manifest) TriggerInput() (*Port, bool) {
	var found *Port
	for i := range m.Inputs {
		if m.Inputs[i].Trigger {
			if found != nil {
				return nil, false
			}
			found = &m.Inputs[i]
		}
	}
	return found, found != nil
}

// LoadManifest reads and validates a manifest document.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.BadManifest(path, err)
	}
	m, err := decodeYAMLManifest(data)
	if err != nil {
		return nil, fault.BadManifest(path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fault.BadManifest(path, err)
	}
	return m, nil
}

// LoadManifestDir loads the manifest of a module directory.
func LoadManifestDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest requires a name")
	}
	if !nameRe.MatchString(m.Name) {
		return fmt.Errorf("module name %q must be a lowercase identifier", m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest requires a version")
	}
	if m.Runtime.Main == "" {
		return fmt.Errorf("manifest requires runtime.main")
	}
	if err := m.parsePorts(m.Inputs, "input"); err != nil {
		return err
	}
	if err := m.parsePorts(m.Outputs, "output"); err != nil {
		return err
	}
	triggers := 0
	for _, p := range m.Inputs {
		if p.Trigger {
			triggers++
		}
	}
	if triggers > 1 {
		return fmt.Errorf("at most one input may be marked trigger, found %d", triggers)
	}
	return nil
}

// parsePorts checks name uniqueness and resolves each port's declared
// type expression. The slice is mutated in place.
func (m *Manifest) parsePorts(ports []Port, kind string) error {
	seen := make(map[string]struct{}, len(ports))
	for i := range ports {
		p := &ports[i]
		if p.Name == "" {
			return fmt.Errorf("%s #%d requires a name", kind, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate %s name %q", kind, p.Name)
		}
		seen[p.Name] = struct{}{}
		raw := strings.TrimSpace(p.RawType)
		if raw == "" {
			return fmt.Errorf("%s %q requires a type", kind, p.Name)
		}
		parsed, err := typeexpr.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s %q: %w", kind, p.Name, err)
		}
		p.Type = parsed
	}
	return nil
}
