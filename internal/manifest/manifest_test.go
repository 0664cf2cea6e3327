package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validManifest = `
name: crawler
alias: Crawler
creator: eidolon
version: 1.2.0
description: Fetches pages.
runtime:
  main: main
requirements:
  - name: url_list
    version: ">=1.0"
inputs:
  - name: urls
    type: list<str>
    description: URLs to fetch.
outputs:
  - name: pages
    type: list<str>
    description: Fetched page bodies.
  - name: count
    type: int
`

func TestLoadManifest_Valid(t *testing.T) {
	t.Parallel()

	m, err := LoadManifest(writeFile(t, "module.yaml", validManifest))
	require.NoError(t, err)
	assert.Equal(t, "crawler", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	require.Len(t, m.Inputs, 1)
	assert.Equal(t, "list<str>", m.Inputs[0].Type.String())
	out, ok := m.Output("count")
	require.True(t, ok)
	assert.Equal(t, "int", out.Type.String())
	_, ok = m.Output("missing")
	assert.False(t, ok)
}

func TestLoadManifest_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
	}{
		{"missing name", "version: 1.0.0\nruntime: {main: main}\n"},
		{"uppercase name", "name: Crawler\nversion: 1.0.0\nruntime: {main: main}\n"},
		{"missing version", "name: crawler\nruntime: {main: main}\n"},
		{"missing runtime main", "name: crawler\nversion: 1.0.0\n"},
		{
			"duplicate input names",
			"name: m\nversion: 1.0.0\nruntime: {main: main}\ninputs:\n  - {name: x, type: str}\n  - {name: x, type: int}\n",
		},
		{
			"unparseable type",
			"name: m\nversion: 1.0.0\nruntime: {main: main}\noutputs:\n  - {name: x, type: 'gizmo<str>'}\n",
		},
		{
			"two trigger inputs",
			"name: m\nversion: 1.0.0\nruntime: {main: main}\ninputs:\n  - {name: a, type: str, trigger: true}\n  - {name: b, type: str, trigger: true}\n",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadManifest(writeFile(t, "module.yaml", tc.doc))
			require.Error(t, err)
			assert.Equal(t, "bad_manifest", fault.CodeOf(err))
		})
	}
}

const validPipeline = `
pipeline:
  name: example
  execution:
    max_threads: 4
    timeout: 30s
    error_policy: continue
  modules:
    - id: producer
      name: src_mod
      run_mode: once
      config:
        words: [alpha, beta]
    - id: consumer
      name: dst_mod
      run_mode: reactive
      depends_on: [producer]
      input:
        data: producer.result
      mailbox_size: 8
      overflow: drop-oldest
`

func TestLoadPipeline_YAML(t *testing.T) {
	t.Parallel()

	p, err := LoadPipeline(writeFile(t, "example.yaml", validPipeline))
	require.NoError(t, err)
	assert.Equal(t, "example", p.Name)
	assert.Equal(t, 4, p.Execution.MaxThreads)
	assert.Equal(t, PolicyContinue, p.Execution.ErrorPolicy)
	assert.Equal(t, DefaultShutdownGrace, p.Execution.ShutdownGrace)

	require.Len(t, p.Slots, 2)
	consumer, ok := p.Slot("consumer")
	require.True(t, ok)
	assert.Equal(t, RunReactive, consumer.RunMode)
	assert.Equal(t, InputRef{SlotID: "producer", Output: "result"}, consumer.Inputs["data"])
	assert.Equal(t, 8, consumer.MailboxSize)
	assert.Equal(t, "drop-oldest", string(consumer.Overflow))
	assert.Equal(t, DefaultCycle, consumer.Cycle)

	producer, ok := p.Slot("producer")
	require.True(t, ok)
	assert.Equal(t, []any{"alpha", "beta"}, producer.Config["words"])
}

const hclPipelineFixture = `
pipeline "example" {
  execution {
    max_threads  = 4
    error_policy = "halt"
  }
  module "producer" {
    name     = "src_mod"
    run_mode = "once"
    config = {
      words = ["alpha", "beta"]
      limit = 3
    }
  }
  module "consumer" {
    name       = "dst_mod"
    run_mode   = "reactive"
    depends_on = ["producer"]
    input      = { data = "producer.result" }
  }
}
`

func TestLoadPipeline_HCL(t *testing.T) {
	t.Parallel()

	p, err := LoadPipeline(writeFile(t, "example.hcl", hclPipelineFixture))
	require.NoError(t, err)
	assert.Equal(t, "example", p.Name)
	require.Len(t, p.Slots, 2)

	producer, ok := p.Slot("producer")
	require.True(t, ok)
	assert.Equal(t, []any{"alpha", "beta"}, producer.Config["words"])
	assert.Equal(t, int64(3), producer.Config["limit"])

	consumer, ok := p.Slot("consumer")
	require.True(t, ok)
	assert.Equal(t, InputRef{SlotID: "producer", Output: "result"}, consumer.Inputs["data"])
}

func TestLoadPipeline_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		doc  string
	}{
		{"unsupported extension", "p.toml", "whatever"},
		{"missing name", "p.yaml", "pipeline:\n  modules:\n    - {id: a, name: m}\n"},
		{"no modules", "p.yaml", "pipeline:\n  name: p\n"},
		{"duplicate slot ids", "p.yaml", "pipeline:\n  name: p\n  modules:\n    - {id: a, name: m}\n    - {id: a, name: m}\n"},
		{"bad run mode", "p.yaml", "pipeline:\n  name: p\n  modules:\n    - {id: a, name: m, run_mode: sometimes}\n"},
		{"bad overflow", "p.yaml", "pipeline:\n  name: p\n  modules:\n    - {id: a, name: m, overflow: explode}\n"},
		{"bad binding shape", "p.yaml", "pipeline:\n  name: p\n  modules:\n    - {id: a, name: m, input: {x: nodot}}\n"},
		{"bad error policy", "p.yaml", "pipeline:\n  name: p\n  execution: {error_policy: panic}\n  modules:\n    - {id: a, name: m}\n"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadPipeline(writeFile(t, tc.file, tc.doc))
			require.Error(t, err)
			assert.Equal(t, "bad_pipeline", fault.CodeOf(err))
		})
	}
}

// manifestFixtures builds a resolver over a set of inline manifests.
func manifestFixtures(t *testing.T) Resolver {
	t.Helper()
	manifests := map[string]string{
		"src_mod": `
name: src_mod
version: 1.0.0
runtime: {main: main}
outputs:
  - {name: result, type: int}
`,
		"dst_mod": `
name: dst_mod
version: 1.0.0
runtime: {main: main}
inputs:
  - {name: data, type: float}
outputs:
  - {name: done, type: bool}
`,
		"strict_mod": `
name: strict_mod
version: 1.0.0
runtime: {main: main}
inputs:
  - {name: data, type: "dict<str,int>"}
`,
		"trig_mod": `
name: trig_mod
version: 1.0.0
runtime: {main: main}
inputs:
  - {name: fire, type: any, trigger: true}
`,
	}
	parsed := make(map[string]*Manifest, len(manifests))
	for name, doc := range manifests {
		m, err := LoadManifest(writeFile(t, "module.yaml", doc))
		require.NoError(t, err)
		parsed[name] = m
	}
	return func(name string) (*Manifest, error) {
		m, ok := parsed[name]
		if !ok {
			return nil, assert.AnError
		}
		return m, nil
	}
}

func pipelineOf(t *testing.T, doc string) *Pipeline {
	t.Helper()
	p, err := LoadPipeline(writeFile(t, "p.yaml", doc))
	require.NoError(t, err)
	return p
}

func TestValidate_Success(t *testing.T) {
	t.Parallel()

	p := pipelineOf(t, `
pipeline:
  name: ok
  modules:
    - {id: a, name: src_mod, run_mode: once}
    - id: b
      name: dst_mod
      run_mode: reactive
      input: {data: a.result}
`)
	g, err := p.Validate(manifestFixtures(t))
	require.NoError(t, err)
	// Wiring implies the dependency even without depends_on.
	deps, err := g.Dependencies("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deps)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		code string
	}{
		{
			"unknown module",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: ghost_mod}\n",
			"unknown_module",
		},
		{
			"unknown depends_on",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: src_mod, depends_on: [ghost]}\n",
			"bad_pipeline",
		},
		{
			"input to undeclared local input",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: src_mod}\n    - {id: b, name: dst_mod, input: {bogus: a.result}}\n",
			"bad_pipeline",
		},
		{
			"input to unknown output",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: src_mod}\n    - {id: b, name: dst_mod, input: {data: a.nope}}\n",
			"unknown_output",
		},
		{
			"type incompatible",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: src_mod}\n    - {id: b, name: strict_mod, input: {data: a.result}}\n",
			"type_incompatible",
		},
		{
			"on_trigger without trigger input",
			"pipeline:\n  name: p\n  modules:\n    - {id: a, name: src_mod}\n    - {id: b, name: dst_mod, run_mode: on_trigger, input: {data: a.result}}\n",
			"bad_pipeline",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := pipelineOf(t, tc.doc)
			_, err := p.Validate(manifestFixtures(t))
			require.Error(t, err)
			assert.Equal(t, tc.code, fault.CodeOf(err))
		})
	}
}

func TestValidate_OnTriggerWired(t *testing.T) {
	t.Parallel()

	p := pipelineOf(t, `
pipeline:
  name: p
  modules:
    - {id: a, name: src_mod, run_mode: once}
    - {id: b, name: trig_mod, run_mode: on_trigger, input: {fire: a.result}}
`)
	_, err := p.Validate(manifestFixtures(t))
	assert.NoError(t, err)
}

// Pipeline with slots a->b and b->a must be rejected with the offending
// node list and without constructing anything.
func TestValidate_CycleRejected(t *testing.T) {
	t.Parallel()

	p := pipelineOf(t, `
pipeline:
  name: cyclic
  modules:
    - {id: a, name: src_mod, depends_on: [b]}
    - {id: b, name: src_mod, depends_on: [a]}
`)
	_, err := p.Validate(manifestFixtures(t))
	require.Error(t, err)
	assert.Equal(t, "cycle", fault.CodeOf(err))
	assert.Equal(t, []string{"a", "b"}, fault.CycleNodes(err))
}
