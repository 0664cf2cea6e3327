package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// The HCL pipeline format mirrors the YAML document:
//
//	pipeline "example" {
//	  execution {
//	    max_threads  = 8
//	    timeout      = "300s"
//	    error_policy = "halt"
//	  }
//	  module "producer" {
//	    name     = "src_mod"
//	    run_mode = "once"
//	    config   = { words = ["a", "b"] }
//	  }
//	  module "consumer" {
//	    name       = "dst_mod"
//	    run_mode   = "reactive"
//	    depends_on = ["producer"]
//	    input      = { data = "producer.result" }
//	  }
//	}

type hclPipelineFile struct {
	Pipeline *hclPipeline `hcl:"pipeline,block"`
}

type hclPipeline struct {
	Name      string        `hcl:"name,label"`
	Execution *hclExecution `hcl:"execution,block"`
	Modules   []*hclSlot    `hcl:"module,block"`
}

type hclExecution struct {
	MaxThreads       int    `hcl:"max_threads,optional"`
	Timeout          string `hcl:"timeout,optional"`
	Retries          int    `hcl:"retries,optional"`
	ErrorPolicy      string `hcl:"error_policy,optional"`
	TranslationCache int    `hcl:"translation_cache,optional"`
	ShutdownGrace    string `hcl:"shutdown_grace,optional"`
}

type hclSlot struct {
	ID          string            `hcl:"id,label"`
	Name        string            `hcl:"name"`
	RunMode     string            `hcl:"run_mode,optional"`
	Config      cty.Value         `hcl:"config,optional"`
	DependsOn   []string          `hcl:"depends_on,optional"`
	Input       map[string]string `hcl:"input,optional"`
	MailboxSize int               `hcl:"mailbox_size,optional"`
	Overflow    string            `hcl:"overflow,optional"`
	Cycle       string            `hcl:"cycle,optional"`
}

func decodeHCLPipeline(data []byte, filename string) (*Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
	}

	var raw hclPipelineFile
	// Pipeline documents are declarative: no variables, no functions.
	if diags := gohcl.DecodeBody(file.Body, &hcl.EvalContext{}, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
	}
	if raw.Pipeline == nil {
		return nil, fmt.Errorf("%s: missing pipeline block", filename)
	}

	var execRaw yamlExecution
	if raw.Pipeline.Execution != nil {
		e := raw.Pipeline.Execution
		execRaw = yamlExecution{
			MaxThreads:       e.MaxThreads,
			Timeout:          e.Timeout,
			Retries:          e.Retries,
			ErrorPolicy:      e.ErrorPolicy,
			TranslationCache: e.TranslationCache,
			ShutdownGrace:    e.ShutdownGrace,
		}
	}
	exec, err := buildExecution(execRaw)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{Name: raw.Pipeline.Name, Execution: exec}
	for _, s := range raw.Pipeline.Modules {
		config, err := configFromCty(s.Config)
		if err != nil {
			return nil, fmt.Errorf("slot %s config: %w", s.ID, err)
		}
		slot, err := buildSlot(s.ID, s.Name, s.RunMode, config, s.DependsOn, s.Input, s.MailboxSize, s.Overflow, s.Cycle)
		if err != nil {
			return nil, err
		}
		p.Slots = append(p.Slots, slot)
	}
	return p, nil
}

// configFromCty converts a decoded `config = {...}` expression into the
// native map the module contract expects.
func configFromCty(v cty.Value) (map[string]any, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}
	native, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config must be an object, got %s", v.Type().FriendlyName())
	}
	return m, nil
}
