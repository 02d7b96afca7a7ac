// Package router implements the routing engine: named mappings from
// inputs to outputs threaded through a filter pipeline, and the
// top-level Router that owns them plus the optional clock.
//
// The dispatch shape - one handler installed per input, resolve which
// mapping owns it, broadcast the processed result to every output in
// order - is grounded on leafo-midirouter's main loop, generalized
// from its single input/fixed-output-list design into spec.md §4.4's
// named, independently activatable mappings.
package router

import (
	"fmt"
	"sync"

	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/message"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/pkg/logger"
)

var log = logger.Component("router")

// Mapping owns ordered inputs, outputs, and filters. While activated
// its dispatcher is installed on every input.
type Mapping struct {
	Name    string
	Inputs  []registry.Input
	Outputs []registry.Output
	Filters []*filter.Filter

	mu        sync.Mutex
	activated bool
}

// Activate installs dispatch on every input. Calling Activate twice
// is a no-op until Deactivate is called.
func (m *Mapping) Activate(dispatch registry.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activated {
		return nil
	}

	for _, in := range m.Inputs {
		if err := in.Subscribe(dispatch); err != nil {
			return fmt.Errorf("router: mapping %q activate: %w", m.Name, err)
		}
	}
	m.activated = true
	return nil
}

// Deactivate unbinds the dispatcher from every input. The mapping
// stays defined and can be reactivated later (e.g. on hotplug
// reattachment).
func (m *Mapping) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activated {
		return
	}
	for _, in := range m.Inputs {
		in.Unsubscribe()
	}
	m.activated = false
}

// IsActivated reports whether the mapping's dispatcher is installed.
func (m *Mapping) IsActivated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activated
}

// Process runs the filter pipeline over msg, returning the messages to
// broadcast (possibly empty) and whether an adjuster consumed it.
func (m *Mapping) Process(msg message.Message) ([]message.Message, bool) {
	return filter.RunPipeline(m.Filters, msg)
}

// Broadcast sends bytes to every output in insertion order. Duplicate
// outputs (by (name, port)) were already deduplicated when the
// mapping was built; a send failure on one output does not stop the
// rest (spec.md §7.2: device errors are non-fatal).
func (m *Mapping) Broadcast(data []byte) {
	for _, out := range m.Outputs {
		if err := out.Send(data); err != nil {
			log.Error().Err(err).Str("mapping", m.Name).Str("device", out.Name()).Msg("send failed")
		}
	}
}

// DedupOutputs drops outputs that share a (name, port) pair with an
// earlier one in the list, preserving the first occurrence's position.
func DedupOutputs(outputs []registry.Output) []registry.Output {
	seen := make(map[string]struct{}, len(outputs))
	var out []registry.Output
	for _, o := range outputs {
		key := fmt.Sprintf("%s/%d", o.Name(), o.Port())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, o)
	}
	return out
}

// Router holds the named mapping registry, the global pause flag, and
// an optional clock. It is the one piece of state the composition
// root builds from a loaded configuration.
type Router struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
	stopped  bool
	paused   bool
	clock    Clock
}

// Clock is the capability the router needs from the clock core: just
// enough to tear it down on shutdown (spec.md §9's "single
// `this._clock`" resolution - there is exactly one, never a
// collection). Shutdown sends control:stop, awaits the worker's
// state:false echo, and kills the worker, per spec.md §5.
type Clock interface {
	Shutdown()
}

// New constructs an empty Router.
func New() *Router {
	return &Router{mappings: make(map[string]*Mapping)}
}

// AddMapping registers a mapping under its name, replacing any
// previous mapping of the same name.
func (r *Router) AddMapping(m *Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.Name] = m
}

// Mapping returns the named mapping, if any.
func (r *Router) Mapping(name string) (*Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[name]
	return m, ok
}

// Mappings returns every registered mapping.
func (r *Router) Mappings() []*Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	return out
}

// SetClock attaches the single clock instance the router can stop on
// shutdown.
func (r *Router) SetClock(c Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

// SetPaused toggles the router-wide pause flag. While paused, the
// default dispatch (Handle) drops every message before it reaches any
// mapping's filter pipeline.
func (r *Router) SetPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
}

// Handle is the default per-mapping message handler spec.md §4.4
// describes: if the router is stopped or paused, drop; otherwise run
// the mapping's pipeline and broadcast each resulting message's
// bytes, or broadcast nothing if the pipeline was consumed.
func (r *Router) Handle(m *Mapping) registry.Handler {
	return func(data []byte, _ int32) {
		r.mu.RLock()
		drop := r.stopped || r.paused
		r.mu.RUnlock()
		if drop {
			return
		}

		msg, err := message.FromBytes(data)
		if err != nil {
			log.Debug().Err(err).Str("mapping", m.Name).Msg("dropping unparseable message")
			return
		}

		results, consumed := m.Process(msg)
		if consumed {
			return
		}
		for _, out := range results {
			m.Broadcast(out.Bytes())
		}
	}
}

// ActivateAll activates every mapping, installing Router.Handle as
// each mapping's dispatcher.
func (r *Router) ActivateAll() error {
	for _, m := range r.Mappings() {
		if err := m.Activate(r.Handle(m)); err != nil {
			return err
		}
	}
	return nil
}

// Stop deactivates every mapping and marks the router stopped; it
// does not close devices (that is OnExit's job, which also goes
// through the registry).
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopped = true
	clk := r.clock
	r.mu.Unlock()

	for _, m := range r.Mappings() {
		m.Deactivate()
	}
	if clk != nil {
		clk.Shutdown()
	}
}

// OnExit stops the router and closes every device through reg.
func (r *Router) OnExit(reg *registry.Registry) []error {
	r.Stop()
	return reg.OnExit()
}
