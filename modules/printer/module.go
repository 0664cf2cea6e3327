// Package printer is a bundled consumer module: it logs every payload it
// receives.
package printer

import (
	"context"
	"sync"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/registry"
)

// Module implements registry.Provider for this package.
type Module struct{}

// Register binds the printer factory to its manifest name.
func (Module) Register(r *registry.Registry) {
	r.RegisterFactory("printer", func() module.Module { return &printer{} })
}

type printer struct {
	caps module.Capabilities

	mu      sync.Mutex
	pending []*bus.Envelope
}

func (p *printer) Init(ctx context.Context, config map[string]any, caps module.Capabilities) error {
	p.caps = caps
	return nil
}

func (p *printer) OnInput(env *bus.Envelope) {
	p.mu.Lock()
	p.pending = append(p.pending, env)
	p.mu.Unlock()
}

func (p *printer) Iterate(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, env := range batch {
		p.caps.Logger.Info("received payload",
			"topic", env.Topic,
			"source", env.Source,
			"type", env.DataType.String(),
			"payload", env.Payload(),
		)
	}
	return nil
}

func (p *printer) Teardown(ctx context.Context) error { return nil }
