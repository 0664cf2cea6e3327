// Package host runs one pipeline slot as a task: it owns the module
// instance, its mailbox receivers and its iteration schedule, and forms
// the error boundary between the module and the engine.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
)

// State is the lifecycle position of a slot's module instance.
type State int32

const (
	Discovered State = iota
	Verified
	Constructed
	Initialised
	Running
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Verified:
		return "verified"
	case Constructed:
		return "constructed"
	case Initialised:
		return "initialised"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Action is the engine's resolution of a module fault, derived from the
// pipeline's error policy.
type Action int

const (
	// ActionContinue keeps the slot running.
	ActionContinue Action = iota
	// ActionIsolate terminates this slot and leaves the rest running.
	ActionIsolate
	// ActionHalt requests engine-wide shutdown.
	ActionHalt
)

// FaultHandler receives every classified module fault and decides the
// slot's fate.
type FaultHandler func(err error) Action

type inputBinding struct {
	name    string
	mailbox *bus.Mailbox
	trigger bool
}

// Host adapts one module instance to an execution task.
type Host struct {
	slotID  string
	runMode manifest.RunMode
	cycle   time.Duration
	retries int
	mod     module.Module
	onFault FaultHandler

	bindings []inputBinding

	state       atomic.Int32
	dispatchMu  sync.Mutex // serialises OnInput against Iterate
	wake        chan struct{}
	iterating   atomic.Bool
	dispatching atomic.Int32 // envelopes taken from a mailbox but not yet fully dispatched
	iterations  atomic.Int64
	faults      atomic.Int64

	started    atomic.Bool
	recvCancel context.CancelFunc
	recvWG     sync.WaitGroup
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a host for one slot. The fault handler must not be nil.
// retries is the number of immediate re-attempts of a failed Iterate
// before the fault reaches the error policy.
func New(slotID string, runMode manifest.RunMode, cycle time.Duration, retries int, mod module.Module, onFault FaultHandler) *Host {
	if cycle <= 0 {
		cycle = manifest.DefaultCycle
	}
	if retries < 0 {
		retries = 0
	}
	return &Host{
		slotID:   slotID,
		runMode:  runMode,
		cycle:    cycle,
		retries:  retries,
		mod:      mod,
		onFault:  onFault,
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
}

// SlotID returns the hosted slot's id.
func (h *Host) SlotID() string { return h.slotID }

// RunMode returns the hosted slot's scheduling discipline.
func (h *Host) RunMode() manifest.RunMode { return h.runMode }

// Started reports whether Start has run.
func (h *Host) Started() bool { return h.started.Load() }

// AttachInput registers a wired input's mailbox. Wiring-time only.
func (h *Host) AttachInput(name string, mb *bus.Mailbox, trigger bool) {
	h.bindings = append(h.bindings, inputBinding{name: name, mailbox: mb, trigger: trigger})
}

// State reports the current lifecycle state.
func (h *Host) State() State { return State(h.state.Load()) }

// MarkState advances the lifecycle state; the engine drives the
// pre-Running transitions.
func (h *Host) MarkState(s State) { h.state.Store(int32(s)) }

// Iterations reports how many scheduled iterations have finished,
// successful or not; the retries of one iteration count once.
func (h *Host) Iterations() int64 { return h.iterations.Load() }

// Faults reports how many module faults the error boundary caught.
func (h *Host) Faults() int64 { return h.faults.Load() }

// Init runs the module's initialisation hook inside the error boundary.
func (h *Host) Init(ctx context.Context, config map[string]any, caps module.Capabilities) error {
	err := h.guard(ctx, "initialise", func(ctx context.Context) error {
		return h.mod.Init(ctx, config, caps)
	})
	if err != nil {
		return err
	}
	h.MarkState(Initialised)
	return nil
}

// Start launches the receiver goroutines and the run-mode loop. The host
// transitions to Running; the provided context bounds the whole run.
func (h *Host) Start(ctx context.Context) {
	h.started.Store(true)
	h.MarkState(Running)

	recvCtx, recvCancel := context.WithCancel(ctx)
	h.recvCancel = recvCancel
	for _, b := range h.bindings {
		b := b
		h.recvWG.Add(1)
		go func() {
			defer h.recvWG.Done()
			h.receive(recvCtx, b)
		}()
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	h.loopCancel = loopCancel
	go h.run(loopCtx)
}

// receive pumps one input's mailbox into the module.
func (h *Host) receive(ctx context.Context, b inputBinding) {
	for {
		env, ok := b.mailbox.Receive(ctx)
		if !ok {
			return
		}
		h.dispatching.Add(1)
		h.dispatchMu.Lock()
		err := safeCall(func() { h.mod.OnInput(env) })
		h.dispatchMu.Unlock()
		if err != nil {
			h.faults.Add(1)
			logger := ctxlog.FromContext(ctx)
			logger.Error("module on_input failed",
				"slot", h.slotID, "input", env.Input, "topic", env.Topic,
				"source", env.Source, "envelope", env.ID, "error", err)
			action := h.onFault(fault.ModuleFault(h.slotID, "on_input", err))
			h.dispatching.Add(-1)
			if action != ActionContinue {
				return
			}
			continue
		}
		if h.runMode == manifest.RunReactive || (h.runMode == manifest.RunOnTrigger && b.trigger) {
			select {
			case h.wake <- struct{}{}:
			default: // a wake-up is already pending; coalesce
			}
		}
		h.dispatching.Add(-1)
	}
}

// run drives the module's Iterate schedule according to its run mode.
func (h *Host) run(ctx context.Context) {
	defer close(h.loopDone)

	switch h.runMode {
	case manifest.RunOnce:
		h.iterateOnce(ctx)
		if h.State() == Running {
			// Terminal, but its published outputs linger on the bus.
			h.MarkState(Terminated)
		}

	case manifest.RunLoop:
		timer := time.NewTimer(0)
		defer timer.Stop()
		<-timer.C
		for {
			if !h.iterateOnce(ctx) {
				return
			}
			timer.Reset(h.cycle)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

	default: // reactive, on_trigger
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.wake:
				// Mark busy before the dispatch lock so the engine's
				// quiescence check cannot observe an idle gap.
				h.iterating.Store(true)
				if !h.iterateOnce(ctx) {
					return
				}
			}
		}
	}
}

// iterateOnce runs a single Iterate inside the error boundary and applies
// the resulting action. It reports whether the loop should continue.
func (h *Host) iterateOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	h.dispatchMu.Lock()
	h.iterating.Store(true)
	var err error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if err = h.guard(ctx, "iterate", h.mod.Iterate); err == nil || ctx.Err() != nil {
			break
		}
	}
	h.iterating.Store(false)
	h.dispatchMu.Unlock()
	h.iterations.Add(1)

	if err == nil || ctx.Err() != nil {
		return ctx.Err() == nil
	}

	switch h.onFault(err) {
	case ActionIsolate:
		h.MarkState(Terminated)
		return false
	case ActionHalt:
		return false
	default:
		return true
	}
}

// Idle reports whether the host has no work pending: nothing iterating,
// no coalesced wake-up and all attached mailboxes empty.
func (h *Host) Idle() bool {
	if h.iterating.Load() || h.dispatching.Load() > 0 || len(h.wake) > 0 {
		return false
	}
	for _, b := range h.bindings {
		if b.mailbox.Len() > 0 {
			return false
		}
	}
	return true
}

// StopDelivery cancels the mailbox receivers and waits for any in-flight
// OnInput dispatch to finish. After it returns, no further envelope
// reaches the module — the precondition for Teardown.
func (h *Host) StopDelivery() {
	if h.recvCancel != nil {
		h.recvCancel()
	}
	h.recvWG.Wait()
}

// Shutdown stops the iteration loop, then runs Teardown bounded by the
// grace context. Expired grace yields a ShutdownTimeout fault and the
// straggling goroutine is abandoned.
func (h *Host) Shutdown(graceCtx context.Context) error {
	h.MarkState(ShuttingDown)
	if h.started.Load() {
		h.loopCancel()
		select {
		case <-h.loopDone:
		case <-graceCtx.Done():
			h.MarkState(Terminated)
			return fault.ShutdownTimeout(h.slotID)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- h.guard(graceCtx, "teardown", h.mod.Teardown)
	}()
	select {
	case err := <-done:
		h.MarkState(Terminated)
		return err
	case <-graceCtx.Done():
		h.MarkState(Terminated)
		return fault.ShutdownTimeout(h.slotID)
	}
}

// DrainMailboxes discards all queued envelopes and reports the count.
func (h *Host) DrainMailboxes() int {
	n := 0
	for _, b := range h.bindings {
		n += b.mailbox.Drain()
	}
	return n
}

// guard invokes a lifecycle hook, converting panics and returned errors
// into classified module faults.
func (h *Host) guard(ctx context.Context, phase string, fn func(context.Context) error) error {
	var err error
	panicked := safeCall(func() { err = fn(ctx) })
	if panicked != nil {
		err = panicked
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown-induced cancellation is not a module fault.
		return nil
	}
	h.faults.Add(1)
	return fault.ModuleFault(h.slotID, phase, err)
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
