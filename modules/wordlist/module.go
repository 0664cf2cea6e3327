// Package wordlist is a bundled producer module: it publishes a
// configured list of words once and terminates.
package wordlist

import (
	"context"
	"fmt"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/bus"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/module"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/registry"
)

// Module implements registry.Provider for this package.
type Module struct{}

// Register binds the wordlist factory to its manifest name.
func (Module) Register(r *registry.Registry) {
	r.RegisterFactory("wordlist", func() module.Module { return &wordlist{} })
}

type wordlist struct {
	caps  module.Capabilities
	words []any
}

func (w *wordlist) Init(ctx context.Context, config map[string]any, caps module.Capabilities) error {
	w.caps = caps
	raw, ok := config["words"]
	if !ok {
		return fmt.Errorf("wordlist requires a 'words' list in its configuration")
	}
	words, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("wordlist config 'words' must be a list, got %T", raw)
	}
	for _, word := range words {
		if _, ok := word.(string); !ok {
			return fmt.Errorf("wordlist entries must be strings, got %T", word)
		}
	}
	w.words = words
	return nil
}

func (w *wordlist) OnInput(env *bus.Envelope) {}

func (w *wordlist) Iterate(ctx context.Context) error {
	w.caps.Logger.Debug("publishing word list", "count", len(w.words))
	return w.caps.Publisher.Publish(ctx, "words", w.words)
}

func (w *wordlist) Teardown(ctx context.Context) error { return nil }
