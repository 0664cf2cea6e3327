// Package bus implements the in-process typed publish/subscribe channel
// between pipeline slots. Topics are keyed by "<slotId>.<outputName>";
// the topic table is written only during wiring and read-only afterwards,
// so steady-state fan-out takes no bus-wide lock.
package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/translate"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// TopicKey builds the qualified topic name for a producer output.
func TopicKey(slotID, output string) string {
	return slotID + "." + output
}

// Binding attaches one subscriber input to a topic.
type Binding struct {
	Subscriber string
	Input      string
	InputType  typeexpr.Type
	Mailbox    *Mailbox
}

type topic struct {
	key      string
	source   string
	output   string
	dataType typeexpr.Type
	bindings []*Binding
}

// Stats aggregates bus-wide diagnostic counters.
type Stats struct {
	Published           int64
	NoSubscriber        int64
	TranslationFailures int64
}

// Bus routes envelopes from producer outputs to subscriber mailboxes,
// translating payloads where declared types differ.
type Bus struct {
	topics     map[string]*topic
	bindingIdx map[string]*Binding // subscriber "\x00" input -> binding
	translator *translate.Translator
	sealed     atomic.Bool

	published    atomic.Int64
	noSubscriber atomic.Int64
	translateErr atomic.Int64
}

// New creates an empty bus using the given translator for type coercion.
func New(tr *translate.Translator) *Bus {
	return &Bus{
		topics:     make(map[string]*topic),
		bindingIdx: make(map[string]*Binding),
		translator: tr,
	}
}

// RegisterOutput declares a producer output as a topic. Wiring-time only.
func (b *Bus) RegisterOutput(slotID, output string, dataType typeexpr.Type) error {
	if b.sealed.Load() {
		return fmt.Errorf("bus is sealed; outputs register only during wiring")
	}
	key := TopicKey(slotID, output)
	if _, exists := b.topics[key]; exists {
		return fmt.Errorf("topic %s is already registered", key)
	}
	b.topics[key] = &topic{key: key, source: slotID, output: output, dataType: dataType}
	return nil
}

// Subscribe binds a subscriber input to a qualified topic and returns the
// mailbox the host should receive from. Idempotent per (subscriber,
// input): a repeated call returns the existing mailbox. Wiring-time only.
func (b *Bus) Subscribe(subscriber, input, qualifiedTopic string, inputType typeexpr.Type, mailboxSize int, policy OverflowPolicy) (*Mailbox, error) {
	if b.sealed.Load() {
		return nil, fmt.Errorf("bus is sealed; subscriptions register only during wiring")
	}
	idxKey := subscriber + "\x00" + input
	if existing, ok := b.bindingIdx[idxKey]; ok {
		return existing.Mailbox, nil
	}
	t, ok := b.topics[qualifiedTopic]
	if !ok {
		return nil, fmt.Errorf("subscribe %s.%s: topic %s does not exist", subscriber, input, qualifiedTopic)
	}
	binding := &Binding{
		Subscriber: subscriber,
		Input:      input,
		InputType:  inputType,
		Mailbox:    newMailbox(mailboxSize, policy),
	}
	t.bindings = append(t.bindings, binding)
	b.bindingIdx[idxKey] = binding
	return binding.Mailbox, nil
}

// Seal marks wiring complete; after it RegisterOutput and Subscribe fail.
func (b *Bus) Seal() { b.sealed.Store(true) }

// Publish wraps the payload in an envelope and fans it out to each binding
// registered on the producer's topic, in registration order. The call
// returns once every envelope is enqueued; under the block policy a full
// mailbox suspends the publisher. A message published to a topic with no
// bindings is dropped — the bus retains nothing.
func (b *Bus) Publish(ctx context.Context, slotID, output string, payload any) error {
	t, ok := b.topics[TopicKey(slotID, output)]
	if !ok {
		return fmt.Errorf("publish: slot %s has no registered output %q", slotID, output)
	}
	b.published.Add(1)
	if len(t.bindings) == 0 {
		b.noSubscriber.Add(1)
		return nil
	}

	env := &Envelope{
		ID:        uuid.New(),
		Topic:     t.key,
		Source:    t.source,
		Timestamp: time.Now(),
		DataType:  t.dataType,
		payload:   payload,
	}

	logger := ctxlog.FromContext(ctx)
	for _, binding := range t.bindings {
		delivered := env.withBinding(binding.Input, payload, t.dataType)
		if !t.dataType.Equal(binding.InputType) {
			converted, err := b.translator.Translate(payload, binding.InputType)
			if err != nil {
				// Per-delivery failure: skip this binding, keep fanning out.
				b.translateErr.Add(1)
				logger.Warn("translation failed; subscriber skipped",
					"topic", t.key,
					"subscriber", binding.Subscriber,
					"input", binding.Input,
					"error", err,
				)
				continue
			}
			delivered = env.withBinding(binding.Input, converted, binding.InputType)
		}
		if err := binding.Mailbox.Put(ctx, delivered); err != nil {
			return err
		}
	}
	return nil
}

// BindingFor returns the binding registered for a subscriber input, if any.
func (b *Bus) BindingFor(subscriber, input string) (*Binding, bool) {
	binding, ok := b.bindingIdx[subscriber+"\x00"+input]
	return binding, ok
}

// Bindings returns every binding on the bus, for shutdown accounting.
func (b *Bus) Bindings() []*Binding {
	var all []*Binding
	for _, t := range b.topics {
		all = append(all, t.bindings...)
	}
	return all
}

// AllMailboxesEmpty reports whether no envelope is queued anywhere.
func (b *Bus) AllMailboxesEmpty() bool {
	for _, t := range b.topics {
		for _, binding := range t.bindings {
			if binding.Mailbox.Len() > 0 {
				return false
			}
		}
	}
	return true
}

// Stats snapshots the bus-wide counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:           b.published.Load(),
		NoSubscriber:        b.noSubscriber.Load(),
		TranslationFailures: b.translateErr.Load(),
	}
}
