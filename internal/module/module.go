// Package module defines the contract every pipeline module implements
// and the capabilities the engine hands it at initialisation.
package module

import (
	"context"
	"log/slog"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/pool"
)

// Publisher is the slot-scoped bus handle a module publishes through.
// The output name must be one the module's manifest declares.
type Publisher interface {
	Publish(ctx context.Context, output string, payload any) error
}

// Capabilities is everything a module may touch beyond its own state.
type Capabilities struct {
	Publisher Publisher
	Logger    *slog.Logger
	Pool      *pool.Pool
}

// Module is the lifecycle contract of a pipeline module.
//
// OnInput is called synchronously from the bus delivery path and must not
// block; it typically stores the payload into module-local state. The
// host serialises OnInput against Iterate, so a module observes one or
// the other at a time, never both. Iterate invocations are strictly
// serial.
type Module interface {
	Init(ctx context.Context, config map[string]any, caps Capabilities) error
	OnInput(env *bus.Envelope)
	Iterate(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// Factory constructs a fresh module instance for one slot.
type Factory func() Module
