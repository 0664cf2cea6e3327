package manifest

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
)

type yamlPort struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Trigger     bool   `yaml:"trigger"`
}

type yamlManifest struct {
	Name        string `yaml:"name"`
	Alias       string `yaml:"alias"`
	Creator     string `yaml:"creator"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Repository  string `yaml:"repository"`
	Runtime     struct {
		Main  string `yaml:"main"`
		Tests string `yaml:"tests"`
	} `yaml:"runtime"`
	Requirements []struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"requirements"`
	Inputs  []yamlPort `yaml:"inputs"`
	Outputs []yamlPort `yaml:"outputs"`
}

func decodeYAMLManifest(data []byte) (*Manifest, error) {
	var raw yamlManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &Manifest{
		Name:        raw.Name,
		Alias:       raw.Alias,
		Creator:     raw.Creator,
		Version:     raw.Version,
		Description: raw.Description,
		Repository:  raw.Repository,
		Runtime:     Runtime{Main: raw.Runtime.Main, Tests: raw.Runtime.Tests},
	}
	for _, r := range raw.Requirements {
		m.Requirements = append(m.Requirements, Requirement{Name: r.Name, Version: r.Version})
	}
	for _, p := range raw.Inputs {
		m.Inputs = append(m.Inputs, Port{Name: p.Name, RawType: p.Type, Description: p.Description, Trigger: p.Trigger})
	}
	for _, p := range raw.Outputs {
		m.Outputs = append(m.Outputs, Port{Name: p.Name, RawType: p.Type, Description: p.Description})
	}
	return m, nil
}

type yamlExecution struct {
	MaxThreads       int    `yaml:"max_threads"`
	Timeout          string `yaml:"timeout"`
	Retries          int    `yaml:"retries"`
	ErrorPolicy      string `yaml:"error_policy"`
	TranslationCache int    `yaml:"translation_cache"`
	ShutdownGrace    string `yaml:"shutdown_grace"`
}

type yamlSlot struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	RunMode     string            `yaml:"run_mode"`
	Config      map[string]any    `yaml:"config"`
	DependsOn   []string          `yaml:"depends_on"`
	Input       map[string]string `yaml:"input"`
	MailboxSize int               `yaml:"mailbox_size"`
	Overflow    string            `yaml:"overflow"`
	Cycle       string            `yaml:"cycle"`
}

type yamlPipelineDoc struct {
	Pipeline struct {
		Name      string        `yaml:"name"`
		Execution yamlExecution `yaml:"execution"`
		Modules   []yamlSlot    `yaml:"modules"`
	} `yaml:"pipeline"`
}

func decodeYAMLPipeline(data []byte) (*Pipeline, error) {
	var raw yamlPipelineDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	exec, err := buildExecution(raw.Pipeline.Execution)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Name: raw.Pipeline.Name, Execution: exec}
	for _, s := range raw.Pipeline.Modules {
		slot, err := buildSlot(s.ID, s.Name, s.RunMode, s.Config, s.DependsOn, s.Input, s.MailboxSize, s.Overflow, s.Cycle)
		if err != nil {
			return nil, err
		}
		p.Slots = append(p.Slots, slot)
	}
	return p, nil
}

func buildExecution(raw yamlExecution) (Execution, error) {
	timeout, err := parseDuration(raw.Timeout, "execution.timeout")
	if err != nil {
		return Execution{}, err
	}
	grace, err := parseDuration(raw.ShutdownGrace, "execution.shutdown_grace")
	if err != nil {
		return Execution{}, err
	}
	return Execution{
		MaxThreads:       raw.MaxThreads,
		Timeout:          timeout,
		Retries:          raw.Retries,
		ErrorPolicy:      ErrorPolicy(raw.ErrorPolicy),
		TranslationCache: raw.TranslationCache,
		ShutdownGrace:    grace,
	}, nil
}

// buildSlot assembles a Slot from format-agnostic raw fields; shared by
// the YAML and HCL decoders.
func buildSlot(id, name, runMode string, config map[string]any, dependsOn []string, input map[string]string, mailboxSize int, overflow, cycle string) (*Slot, error) {
	cycleDur, err := parseDuration(cycle, fmt.Sprintf("slot %s cycle", id))
	if err != nil {
		return nil, err
	}
	slot := &Slot{
		ID:          id,
		Module:      name,
		RunMode:     RunMode(runMode),
		Config:      config,
		DependsOn:   dependsOn,
		MailboxSize: mailboxSize,
		Overflow:    bus.OverflowPolicy(overflow),
		Cycle:       cycleDur,
	}
	if len(input) > 0 {
		slot.Inputs = make(map[string]InputRef, len(input))
		for local, ref := range input {
			parsed, err := parseInputRef(ref)
			if err != nil {
				return nil, fmt.Errorf("slot %s input %s: %w", id, local, err)
			}
			slot.Inputs[local] = parsed
		}
	}
	return slot, nil
}

// parseInputRef splits "slotId.outputName".
func parseInputRef(s string) (InputRef, error) {
	slotID, output, ok := strings.Cut(s, ".")
	if !ok || slotID == "" || output == "" {
		return InputRef{}, fmt.Errorf("binding %q must have the form slotId.outputName", s)
	}
	return InputRef{SlotID: slotID, Output: output}, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
