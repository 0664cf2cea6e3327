package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/dag"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// RunMode is a slot's scheduling discipline.
type RunMode string

const (
	RunLoop      RunMode = "loop"
	RunOnce      RunMode = "once"
	RunReactive  RunMode = "reactive"
	RunOnTrigger RunMode = "on_trigger"
)

// ErrorPolicy decides what a module fault does to the rest of the run.
type ErrorPolicy string

const (
	PolicyHalt     ErrorPolicy = "halt"
	PolicyContinue ErrorPolicy = "continue"
	PolicyIsolate  ErrorPolicy = "isolate"
	PolicyLogOnly  ErrorPolicy = "log_only"
)

// Execution carries the pipeline-wide options.
type Execution struct {
	MaxThreads       int
	Timeout          time.Duration
	Retries          int
	ErrorPolicy      ErrorPolicy
	TranslationCache int
	ShutdownGrace    time.Duration
}

// Defaults applied when the document omits options.
const (
	DefaultMaxThreads    = 8
	DefaultShutdownGrace = 10 * time.Second
	DefaultCycle         = time.Second
)

// InputRef points an input binding at a producer slot's output.
type InputRef struct {
	SlotID string
	Output string
}

// Topic returns the qualified bus topic of the referenced output.
func (r InputRef) Topic() string { return bus.TopicKey(r.SlotID, r.Output) }

// Slot is one occurrence of a module within a pipeline.
type Slot struct {
	ID          string
	Module      string
	RunMode     RunMode
	Config      map[string]any
	DependsOn   []string
	Inputs      map[string]InputRef
	MailboxSize int
	Overflow    bus.OverflowPolicy
	Cycle       time.Duration
}

// Pipeline describes one run.
type Pipeline struct {
	Name      string
	Execution Execution
	Slots     []*Slot
}

// Slot looks up a slot by id.
func (p *Pipeline) Slot(id string) (*Slot, bool) {
	for _, s := range p.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// LoadPipeline reads a pipeline document, dispatching on extension:
// .yaml/.yml or .hcl. Only syntactic validation happens here; call
// Validate with a manifest resolver before running.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.BadPipeline(path, err.Error())
	}
	var p *Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		p, err = decodeHCLPipeline(data, path)
	case ".yaml", ".yml":
		p, err = decodeYAMLPipeline(data)
	default:
		return nil, fault.BadPipeline(path, fmt.Sprintf("unsupported pipeline format %q", filepath.Ext(path)))
	}
	if err != nil {
		return nil, fault.BadPipeline(path, err.Error())
	}
	if err := p.normalize(); err != nil {
		return nil, fault.BadPipeline(p.Name, err.Error())
	}
	return p, nil
}

// normalize applies defaults and checks the pipeline's self-contained
// (manifest-independent) invariants.
func (p *Pipeline) normalize() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline requires a name")
	}
	if p.Execution.MaxThreads <= 0 {
		p.Execution.MaxThreads = DefaultMaxThreads
	}
	if p.Execution.ErrorPolicy == "" {
		p.Execution.ErrorPolicy = PolicyHalt
	}
	switch p.Execution.ErrorPolicy {
	case PolicyHalt, PolicyContinue, PolicyIsolate, PolicyLogOnly:
	default:
		return fmt.Errorf("invalid error_policy %q", p.Execution.ErrorPolicy)
	}
	if p.Execution.ShutdownGrace <= 0 {
		p.Execution.ShutdownGrace = DefaultShutdownGrace
	}
	if len(p.Slots) == 0 {
		return fmt.Errorf("pipeline declares no modules")
	}

	seen := make(map[string]struct{}, len(p.Slots))
	for _, s := range p.Slots {
		if s.ID == "" {
			return fmt.Errorf("every module slot requires an id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate slot id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Module == "" {
			return fmt.Errorf("slot %s requires a module name", s.ID)
		}
		if s.RunMode == "" {
			s.RunMode = RunLoop
		}
		switch s.RunMode {
		case RunLoop, RunOnce, RunReactive, RunOnTrigger:
		default:
			return fmt.Errorf("slot %s: invalid run_mode %q", s.ID, s.RunMode)
		}
		if s.Cycle <= 0 {
			s.Cycle = DefaultCycle
		}
		policy, ok := bus.ParseOverflowPolicy(string(s.Overflow))
		if !ok {
			return fmt.Errorf("slot %s: invalid overflow policy %q", s.ID, s.Overflow)
		}
		s.Overflow = policy
	}
	return nil
}

// Resolver maps a module name to its discovered manifest.
type Resolver func(name string) (*Manifest, error)

// Validate performs the semantic checks against discovered manifests:
// every slot's module resolves, depends_on references exist, every input
// binding targets a declared output of compatible type, on_trigger slots
// have a trigger input, and the slot graph is acyclic.
//
// On success the returned graph contains one node per slot with edges for
// both declared and wiring-implied dependencies.
func (p *Pipeline) Validate(resolve Resolver) (*dag.Graph, error) {
	manifests := make(map[string]*Manifest, len(p.Slots))
	for _, s := range p.Slots {
		m, err := resolve(s.Module)
		if err != nil || m == nil {
			return nil, fault.UnknownModule(s.ID, s.Module)
		}
		manifests[s.ID] = m
	}

	g := dag.New()
	for _, s := range p.Slots {
		g.AddNode(s.ID)
	}

	for _, s := range p.Slots {
		m := manifests[s.ID]

		for _, dep := range s.DependsOn {
			if _, ok := p.Slot(dep); !ok {
				return nil, fault.BadPipeline(p.Name, fmt.Sprintf("slot %s depends on unknown slot %q", s.ID, dep))
			}
			if err := g.AddEdge(dep, s.ID); err != nil {
				return nil, fault.BadPipeline(p.Name, err.Error())
			}
		}

		for local, ref := range s.Inputs {
			in, ok := m.Input(local)
			if !ok {
				return nil, fault.BadPipeline(p.Name, fmt.Sprintf("slot %s wires input %q, which manifest %s does not declare", s.ID, local, m.Name))
			}
			src, ok := p.Slot(ref.SlotID)
			if !ok {
				return nil, fault.BadPipeline(p.Name, fmt.Sprintf("slot %s input %s references unknown slot %q", s.ID, local, ref.SlotID))
			}
			srcManifest := manifests[src.ID]
			out, ok := srcManifest.Output(ref.Output)
			if !ok {
				return nil, fault.UnknownOutput(s.ID, ref.SlotID, ref.Output)
			}
			if !typeexpr.Compatible(out.Type, in.Type) {
				return nil, fault.TypeIncompatible(s.ID, local, out.Type.String(), in.Type.String())
			}
			if ref.SlotID != s.ID {
				if err := g.AddEdge(ref.SlotID, s.ID); err != nil {
					return nil, fault.BadPipeline(p.Name, err.Error())
				}
			}
		}

		if s.RunMode == RunOnTrigger {
			trigger, ok := m.TriggerInput()
			if !ok {
				return nil, fault.BadPipeline(p.Name, fmt.Sprintf("slot %s runs on_trigger but manifest %s declares no single trigger input", s.ID, m.Name))
			}
			if _, wired := s.Inputs[trigger.Name]; !wired {
				return nil, fault.BadPipeline(p.Name, fmt.Sprintf("slot %s runs on_trigger but its trigger input %q is not wired", s.ID, trigger.Name))
			}
		}
	}

	if _, cycle := g.Layers(); cycle != nil {
		return nil, fault.Cycle(cycle)
	}
	return g, nil
}
