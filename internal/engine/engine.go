// Package engine is the composition root of the runtime: it discovers and
// verifies modules, validates and wires the pipeline, drives every slot's
// lifecycle and coordinates shutdown.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/dag"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/host"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/modsec"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/pool"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/registry"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/translate"
)

// Config assembles everything an Engine needs for one run.
type Config struct {
	Pipeline        *manifest.Pipeline
	ModuleRoots     []string
	Signers         *modsec.TrustedSigners
	SecurityMode    modsec.SecurityMode
	AllowUnverified bool
	Prompter        modsec.Prompter
	Providers       []registry.Provider
}

// Report summarises a completed (or rejected) run.
type Report struct {
	// Excluded lists slots removed by the admission policy, including
	// the transitive closure of their consumers.
	Excluded []string
	// Rejections carries one SecurityRejected fault per directly
	// rejected slot.
	Rejections []error
	// Faults carries every module fault the error boundaries recorded.
	Faults []error
	// ShutdownDropped counts envelopes discarded from mailboxes at
	// shutdown.
	ShutdownDropped int
	// Bus snapshots the bus counters at the end of the run.
	Bus bus.Stats
	// Worst is the highest error severity encountered, for exit-code
	// mapping.
	Worst fault.Severity
}

// Engine orchestrates one pipeline run.
type Engine struct {
	cfg        Config
	registry   *registry.Registry
	policy     *modsec.Policy
	translator *translate.Translator
	bus        *bus.Bus
	pool       *pool.Pool

	hosts map[string]*host.Host
	order []string
	graph *dag.Graph

	mu     sync.Mutex
	report Report
	halt   context.CancelFunc
}

// New builds an engine. Run may be called once.
func New(cfg Config) *Engine {
	if cfg.Signers == nil {
		cfg.Signers = modsec.NewTrustedSigners()
	}
	if cfg.SecurityMode == "" {
		cfg.SecurityMode = modsec.ModeDefault
	}
	tr := translate.New(cfg.Pipeline.Execution.TranslationCache)
	return &Engine{
		cfg:        cfg,
		registry:   registry.New(),
		policy:     modsec.NewPolicy(cfg.SecurityMode, cfg.AllowUnverified, cfg.Prompter),
		translator: tr,
		bus:        bus.New(tr),
		pool:       pool.New(cfg.Pipeline.Execution.MaxThreads),
		hosts:      make(map[string]*host.Host),
	}
}

// Registry exposes the engine's module registry, primarily for the CLI's
// listing commands.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Run executes the pipeline to completion. A non-nil error means the run
// never started (configuration or total security rejection); module
// faults during the run surface through the Report instead.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	p := e.cfg.Pipeline

	for _, pr := range e.cfg.Providers {
		pr.Register(e.registry)
	}
	if err := e.registry.Discover(ctx, e.cfg.ModuleRoots...); err != nil {
		return nil, fault.BadPipeline(p.Name, err.Error())
	}

	graph, err := p.Validate(func(name string) (*manifest.Manifest, error) {
		entry, ok := e.registry.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("module %q not discovered", name)
		}
		return entry.Manifest, nil
	})
	if err != nil {
		return nil, err
	}
	e.graph = graph

	survivors, err := e.admitSlots(ctx)
	if err != nil {
		return nil, err
	}

	order, cycle := graph.TopoOrder()
	if cycle != nil {
		return nil, fault.Cycle(cycle)
	}
	e.order = filterOrder(order, survivors)

	if err := e.wire(survivors); err != nil {
		return nil, err
	}
	if err := e.initialise(ctx); err != nil {
		// Halt policy: abort before anything runs, but still tear down
		// the slots already initialised.
		e.recordFault(err)
		e.shutdown(ctx, func() {})
		e.finishReport()
		return &e.report, nil
	}

	e.runHosts(ctx)
	e.finishReport()
	return &e.report, nil
}

// admitSlots verifies every referenced module and applies the admission
// policy, removing rejected slots together with their downstream
// transitive closure. It fails outright when nothing survives.
func (e *Engine) admitSlots(ctx context.Context) (map[string]bool, error) {
	logger := ctxlog.FromContext(ctx)
	p := e.cfg.Pipeline

	verified := make(map[string]modsec.Verdict) // module name -> verdict
	var rejected []string
	for _, slot := range p.Slots {
		entry, _ := e.registry.Resolve(slot.Module)
		verdict, ok := verified[slot.Module]
		if !ok {
			var err error
			verdict, err = modsec.Verify(entry.Path, e.cfg.Signers)
			if err != nil {
				logger.Error("module verification errored", "module", slot.Module, "error", err)
			}
			verified[slot.Module] = verdict
			e.registry.SetVerdict(slot.Module, verdict)
		}

		decision := e.policy.Admit(slot.Module, verdict)
		switch {
		case decision.Admit && decision.Warn:
			logger.Warn("admitting module despite verification failure",
				"slot", slot.ID, "module", slot.Module, "verdict", string(verdict.Kind), "reason", decision.Reason)
		case decision.Admit:
			logger.Debug("module admitted", "slot", slot.ID, "module", slot.Module, "signer", verdict.Signer)
		default:
			rejected = append(rejected, slot.ID)
			rej := fault.SecurityRejected(slot.ID, string(verdict.Kind), verdict.Signer)
			e.mu.Lock()
			e.report.Rejections = append(e.report.Rejections, rej)
			e.mu.Unlock()
			logger.Error("module rejected by security policy",
				"slot", slot.ID, "module", slot.Module, "verdict", string(verdict.Kind), "reason", decision.Reason)
		}
	}

	excluded := make(map[string]bool, len(rejected))
	for _, id := range rejected {
		excluded[id] = true
	}
	for _, id := range e.graph.TransitiveDependents(rejected) {
		if !excluded[id] {
			excluded[id] = true
			logger.Warn("excluding slot downstream of a rejected module", "slot", id)
		}
	}

	survivors := make(map[string]bool, len(p.Slots))
	for _, slot := range p.Slots {
		if !excluded[slot.ID] {
			survivors[slot.ID] = true
		}
	}
	e.mu.Lock()
	for id := range excluded {
		e.report.Excluded = append(e.report.Excluded, id)
	}
	e.mu.Unlock()

	if len(survivors) == 0 {
		return nil, fault.SecurityRejected(p.Name, "all slots rejected", "")
	}
	return survivors, nil
}

// wire constructs module instances and registers every surviving slot's
// outputs and input subscriptions on the bus.
func (e *Engine) wire(survivors map[string]bool) error {
	p := e.cfg.Pipeline

	for _, id := range e.order {
		slot, _ := p.Slot(id)
		entry, _ := e.registry.Resolve(slot.Module)

		factory, ok := e.registry.Factory(slot.Module)
		if !ok {
			return fault.UnknownModule(slot.ID, slot.Module)
		}

		h := host.New(slot.ID, slot.RunMode, slot.Cycle, p.Execution.Retries, factory(), e.faultHandler(slot))
		h.MarkState(host.Constructed)
		e.hosts[slot.ID] = h

		for _, out := range entry.Manifest.Outputs {
			if err := e.bus.RegisterOutput(slot.ID, out.Name, out.Type); err != nil {
				return fault.BadPipeline(p.Name, err.Error())
			}
		}
	}

	for _, id := range e.order {
		slot, _ := p.Slot(id)
		entry, _ := e.registry.Resolve(slot.Module)
		h := e.hosts[id]
		for local, ref := range slot.Inputs {
			if !survivors[ref.SlotID] {
				// Unreachable: exclusion is transitive, so a surviving
				// subscriber never references an excluded producer.
				return fault.BadPipeline(p.Name, fmt.Sprintf("slot %s wired to excluded slot %s", id, ref.SlotID))
			}
			in, _ := entry.Manifest.Input(local)
			mb, err := e.bus.Subscribe(slot.ID, local, ref.Topic(), in.Type, slot.MailboxSize, slot.Overflow)
			if err != nil {
				return fault.BadPipeline(p.Name, err.Error())
			}
			h.AttachInput(local, mb, in.Trigger)
		}
	}
	return nil
}

// initialise runs Init on every host in topological order. An
// initialisation fault aborts the run under the halt policy; under any
// other policy the slot and its downstream closure are skipped instead.
func (e *Engine) initialise(ctx context.Context) error {
	p := e.cfg.Pipeline
	logger := ctxlog.FromContext(ctx)
	skipped := make(map[string]bool)

	for _, id := range e.order {
		if skipped[id] {
			continue
		}
		slot, _ := p.Slot(id)
		h := e.hosts[id]
		caps := module.Capabilities{
			Publisher: &slotPublisher{bus: e.bus, slotID: id},
			Logger:    logger.With("slot", id, "module", slot.Module),
			Pool:      e.pool,
		}
		if err := h.Init(ctx, slot.Config, caps); err != nil {
			if p.Execution.ErrorPolicy == manifest.PolicyHalt {
				return err
			}
			e.recordFault(err)
			h.MarkState(host.Terminated)
			skipped[id] = true
			for _, dep := range e.graph.TransitiveDependents([]string{id}) {
				if !skipped[dep] {
					skipped[dep] = true
					if downstream, ok := e.hosts[dep]; ok {
						downstream.MarkState(host.Terminated)
					}
					logger.Warn("skipping slot downstream of failed initialisation", "slot", dep, "failed", id)
				}
			}
			continue
		}
		logger.Debug("slot initialised", "slot", id)
	}
	return nil
}

// runHosts starts every host, supervises the run until a terminal
// condition and then executes the shutdown coordinator.
func (e *Engine) runHosts(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	p := e.cfg.Pipeline

	runCtx := ctx
	var timeoutCancel context.CancelFunc
	if p.Execution.Timeout > 0 {
		runCtx, timeoutCancel = context.WithTimeout(ctx, p.Execution.Timeout)
		defer timeoutCancel()
	}
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	e.mu.Lock()
	e.halt = cancel
	e.mu.Unlock()

	e.bus.Seal()

	// Dependencies were initialised in topological order, so every
	// initialised host may transition to Running immediately.
	for _, id := range e.order {
		if h := e.hosts[id]; h.State() == host.Initialised {
			h.Start(runCtx)
		}
	}
	logger.Info("pipeline running", "pipeline", p.Name, "slots", len(e.order))

	e.awaitCompletion(runCtx)
	logger.Debug("terminal condition reached, shutting down")

	e.shutdown(ctx, cancel)
}

// awaitCompletion blocks until the run context is cancelled (operator
// interrupt, timeout or halt policy) or the pipeline quiesces naturally:
// all once slots terminal, reactive slots idle, no loop slot remaining
// and every mailbox empty.
func (e *Engine) awaitCompletion(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	stable := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.quiescent() {
				stable++
				if stable >= 2 {
					return
				}
			} else {
				stable = 0
			}
		}
	}
}

func (e *Engine) quiescent() bool {
	for _, h := range e.hosts {
		switch h.RunMode() {
		case manifest.RunLoop, manifest.RunOnce:
			if h.State() != host.Terminated {
				return false
			}
		default: // reactive, on_trigger
			if h.State() != host.Terminated && !h.Idle() {
				return false
			}
		}
	}
	return e.bus.AllMailboxesEmpty()
}

// shutdown is the coordinator. Hosts stop layer by layer in reverse
// topological order — consumers before their producers — with the hosts
// of one layer torn down concurrently, each bounded by the grace period.
// Leftover mailbox contents are dropped and counted.
func (e *Engine) shutdown(ctx context.Context, cancelRun context.CancelFunc) {
	logger := ctxlog.FromContext(ctx)
	grace := e.cfg.Pipeline.Execution.ShutdownGrace
	cancelRun()

	layers, _ := e.graph.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		var g errgroup.Group
		for _, id := range layers[i] {
			h, ok := e.hosts[id]
			if !ok {
				continue // excluded slot, never constructed
			}
			g.Go(func() error {
				// Delivery stops before teardown begins: the shutdown
				// guarantee.
				h.StopDelivery()

				if h.Started() || h.State() == host.Initialised {
					graceCtx, graceCancel := context.WithTimeout(context.Background(), grace)
					defer graceCancel()
					if err := h.Shutdown(graceCtx); err != nil {
						logger.Error("slot shutdown failed", "slot", h.SlotID(), "error", err)
						e.recordFault(err)
					}
				} else {
					h.MarkState(host.Terminated)
				}

				if dropped := h.DrainMailboxes(); dropped > 0 {
					logger.Debug("dropped queued envelopes at shutdown", "slot", h.SlotID(), "count", dropped)
					e.mu.Lock()
					e.report.ShutdownDropped += dropped
					e.mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// faultHandler classifies one slot's faults per the pipeline error policy.
func (e *Engine) faultHandler(slot *manifest.Slot) host.FaultHandler {
	policy := e.cfg.Pipeline.Execution.ErrorPolicy
	return func(err error) host.Action {
		switch policy {
		case manifest.PolicyLogOnly:
			return host.ActionContinue
		case manifest.PolicyContinue:
			e.recordFault(err)
			return host.ActionContinue
		case manifest.PolicyIsolate:
			e.recordFault(err)
			return host.ActionIsolate
		default: // halt
			e.recordFault(err)
			e.mu.Lock()
			halt := e.halt
			e.mu.Unlock()
			if halt != nil {
				halt()
			}
			return host.ActionHalt
		}
	}
}

func (e *Engine) recordFault(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.Faults = append(e.report.Faults, err)
}

// finishReport folds counters and severities into the final report.
func (e *Engine) finishReport() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.Bus = e.bus.Stats()
	worst := fault.SeverityNone
	for _, err := range e.report.Faults {
		worst = fault.Worst(worst, fault.SeverityOf(err))
	}
	for _, err := range e.report.Rejections {
		worst = fault.Worst(worst, fault.SeverityOf(err))
	}
	e.report.Worst = worst
}

// slotPublisher scopes bus publishing to one slot's declared outputs.
type slotPublisher struct {
	bus    *bus.Bus
	slotID string
}

func (sp *slotPublisher) Publish(ctx context.Context, output string, payload any) error {
	return sp.bus.Publish(ctx, sp.slotID, output, payload)
}

// filterOrder keeps only surviving slot ids, preserving topological order.
func filterOrder(order []string, survivors map[string]bool) []string {
	out := make([]string, 0, len(order))
	for _, id := range order {
		if survivors[id] {
			out = append(out, id)
		}
	}
	return out
}
