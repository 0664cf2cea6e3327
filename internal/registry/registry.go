// Package registry discovers modules on disk and pairs their manifests
// with the compiled-in Go factories that implement them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/modsec"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
)

// Entry is one discovered module: its directory, manifest and — once the
// engine has verified it — the security verdict.
type Entry struct {
	Name     string
	Path     string
	Manifest *manifest.Manifest
	Verdict  modsec.Verdict
}

// Provider registers one or more module factories. Bundled modules
// implement it so the composition root can wire them in one loop.
type Provider interface {
	Register(r *Registry)
}

// Registry resolves module names to discovered entries and factories.
type Registry struct {
	factories map[string]module.Factory
	entries   map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]module.Factory),
		entries:   make(map[string]*Entry),
	}
}

// RegisterFactory binds a module name to its compiled-in constructor.
// The last registration for a name wins.
func (r *Registry) RegisterFactory(name string, f module.Factory) {
	r.factories[name] = f
}

// Factory returns the constructor for a module name.
func (r *Registry) Factory(name string) (module.Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Discover scans module root directories. Every immediate subdirectory
// containing a readable manifest is recorded; an unreadable manifest is
// logged and skipped, and a name already discovered in an earlier root
// shadows later occurrences.
func (r *Registry) Discover(ctx context.Context, roots ...string) error {
	logger := ctxlog.FromContext(ctx)
	for _, root := range roots {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug("module root does not exist, skipping", "root", root)
				continue
			}
			return fmt.Errorf("discover modules in %s: %w", root, err)
		}
		for _, de := range dirEntries {
			if !de.IsDir() {
				continue
			}
			dir := filepath.Join(root, de.Name())
			m, err := manifest.LoadManifestDir(dir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue // not a module directory
				}
				logger.Warn("skipping module with invalid manifest", "dir", dir, "error", err)
				continue
			}
			if existing, dup := r.entries[m.Name]; dup {
				logger.Warn("module name already discovered, keeping first",
					"name", m.Name, "kept", existing.Path, "ignored", dir)
				continue
			}
			r.entries[m.Name] = &Entry{Name: m.Name, Path: dir, Manifest: m}
			logger.Debug("discovered module", "name", m.Name, "dir", dir)
		}
	}
	return nil
}

// Resolve returns the discovered entry for a module name.
func (r *Registry) Resolve(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// SetVerdict attaches a verification verdict to a discovered module.
func (r *Registry) SetVerdict(name string, v modsec.Verdict) {
	if e, ok := r.entries[name]; ok {
		e.Verdict = v
	}
}

// List returns all discovered entries sorted by name.
func (r *Registry) List() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
