package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/modsec"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
)

func writeModuleDir(t *testing.T, root, name, doc string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.ManifestFileName), []byte(doc), 0o644))
}

func manifestNamed(name string) string {
	return "name: " + name + "\nversion: 1.0.0\nruntime: {main: main}\n"
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeModuleDir(t, root, "alpha", manifestNamed("alpha"))
	writeModuleDir(t, root, "beta", manifestNamed("beta"))
	// Not a module: no manifest inside.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stray"), 0o755))
	// Invalid manifest is skipped, not fatal.
	writeModuleDir(t, root, "broken", "version: {{nope\n")

	r := New()
	require.NoError(t, r.Discover(context.Background(), root))

	entries := r.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "beta", entries[1].Name)

	e, ok := r.Resolve("alpha")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "alpha"), e.Path)
	_, ok = r.Resolve("stray")
	assert.False(t, ok)
}

func TestDiscover_FirstRootWins(t *testing.T) {
	t.Parallel()

	rootA := t.TempDir()
	rootB := t.TempDir()
	writeModuleDir(t, rootA, "dup", manifestNamed("dup"))
	writeModuleDir(t, rootB, "dup", manifestNamed("dup"))

	r := New()
	require.NoError(t, r.Discover(context.Background(), rootA, rootB))
	e, ok := r.Resolve("dup")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(rootA, "dup"), e.Path)
}

func TestDiscover_MissingRootIsSkipped(t *testing.T) {
	t.Parallel()

	r := New()
	assert.NoError(t, r.Discover(context.Background(), filepath.Join(t.TempDir(), "absent")))
	assert.Empty(t, r.List())
}

func TestFactoriesAndVerdicts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeModuleDir(t, root, "alpha", manifestNamed("alpha"))

	r := New()
	require.NoError(t, r.Discover(context.Background(), root))

	_, ok := r.Factory("alpha")
	assert.False(t, ok)
	r.RegisterFactory("alpha", func() module.Module { return nil })
	_, ok = r.Factory("alpha")
	assert.True(t, ok)

	r.SetVerdict("alpha", modsec.Verdict{Kind: modsec.Unsigned, Digest: "abc"})
	e, _ := r.Resolve("alpha")
	assert.Equal(t, modsec.Unsigned, e.Verdict.Kind)
}
