// Package registry implements the process-wide MIDI device registry:
// opening, closing, recycling, and indexing input/output ports, and
// reacting to hotplug add/remove notifications.
//
// The open/recycle discipline (check the pool before instantiating a
// new backend object) is grounded on the lazy-open-and-cache pattern
// in mzacho-melrose's DeviceRegistry; the transport calls themselves
// (gitlab.com/gomidi/midi/v2's drivers.In/drivers.Out, midi.ListenTo,
// midi.GetInPorts/GetOutPorts) follow aaliyan1230-midi-mixer's and
// zurustar-son-et's pkg/engine/midi_player.go usage of the same
// library.
package registry

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/samber/lo"

	"github.com/pimidbox/pimidbox/pkg/logger"
)

// PortRecord identifies a logical endpoint: the OS-reported device
// name, its sub-port index, and a user-assigned nickname. Value type.
type PortRecord struct {
	Name     string
	Port     int
	Nickname string
}

func (r PortRecord) key() portKey { return portKey{name: r.Name, port: r.Port} }

type portKey struct {
	name string
	port int
}

// Handler receives decoded bytes from an open Input.
type Handler func(data []byte, timestampMs int32)

// Device is the capability every opened endpoint exposes, regardless
// of direction.
type Device interface {
	Name() string
	Port() int
	Nickname() string
	IsOpen() bool
	Close() error
}

// Input is an opened, listenable source.
type Input interface {
	Device
	Subscribe(h Handler) error
	Unsubscribe()
}

// Output is an opened sink that accepts raw MIDI bytes.
type Output interface {
	Device
	Send(data []byte) error
}

type inputDevice struct {
	record PortRecord
	in     drivers.In
	stop   func()
	open   bool
	mu     sync.Mutex
}

func (d *inputDevice) Name() string     { return d.record.Name }
func (d *inputDevice) Port() int        { return d.record.Port }
func (d *inputDevice) Nickname() string { return d.record.Nickname }

func (d *inputDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *inputDevice) Subscribe(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stop, err := midi.ListenTo(d.in, func(msg midi.Message, timestampms int32) {
		h(msg.Bytes(), timestampms)
	}, midi.UseSysEx())
	if err != nil {
		return fmt.Errorf("registry: subscribe %s/%d: %w", d.record.Name, d.record.Port, err)
	}
	if d.stop != nil {
		d.stop()
	}
	d.stop = stop
	return nil
}

// Unsubscribe unbinds the current listener, if any, without closing
// the underlying device. A mapping calls this on deactivate so the
// device stays open in the registry for reuse by another mapping.
func (d *inputDevice) Unsubscribe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *inputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	err := d.in.Close()
	d.open = false
	return err
}

type outputDevice struct {
	record PortRecord
	out    drivers.Out
	open   bool
	mu     sync.Mutex
}

func (d *outputDevice) Name() string     { return d.record.Name }
func (d *outputDevice) Port() int        { return d.record.Port }
func (d *outputDevice) Nickname() string { return d.record.Nickname }

func (d *outputDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *outputDevice) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("registry: send to closed output %s/%d", d.record.Name, d.record.Port)
	}
	return d.out.Send(data)
}

func (d *outputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	err := d.out.Close()
	d.open = false
	return err
}

// OpenFailure reports a single port that failed to open within a
// batch request; the rest of the batch is unaffected.
type OpenFailure struct {
	Record PortRecord
	Err    error
}

var log = logger.Component("registry")

// Registry tracks every opened device, a recycle pool of devices
// closed but not yet garbage-collected, and the ignore list.
type Registry struct {
	mu sync.RWMutex

	inputs  map[portKey]*inputDevice
	outputs map[portKey]*outputDevice

	recycledIn  map[portKey]*inputDevice
	recycledOut map[portKey]*outputDevice

	ignored map[string]struct{}

	hotplug bool
}

// New constructs an empty Registry. hotplug controls whether the
// registry reconciles with OS add/remove notifications; it can be
// changed later through SetHotplug.
func New(hotplug bool) *Registry {
	return &Registry{
		inputs:      make(map[portKey]*inputDevice),
		outputs:     make(map[portKey]*outputDevice),
		recycledIn:  make(map[portKey]*inputDevice),
		recycledOut: make(map[portKey]*outputDevice),
		ignored:     make(map[string]struct{}),
		hotplug:     hotplug,
	}
}

// SetIgnored replaces the ignore list. Names on it are never opened
// even when explicitly requested.
func (r *Registry) SetIgnored(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored = make(map[string]struct{}, len(names))
	for _, n := range names {
		r.ignored[n] = struct{}{}
	}
}

// SetHotplug toggles hotplug reconciliation.
func (r *Registry) SetHotplug(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hotplug = on
}

func (r *Registry) isIgnored(name string) bool {
	_, ok := r.ignored[name]
	return ok
}

// OpenInputs opens every named input record, skipping ignored devices
// and reusing recycled backend objects where possible. Failures are
// collected and returned alongside the opened devices rather than
// aborting the batch.
func (r *Registry) OpenInputs(records ...PortRecord) ([]Input, []OpenFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var opened []Input
	var failures []OpenFailure

	for _, rec := range records {
		if r.isIgnored(rec.Name) {
			failures = append(failures, OpenFailure{Record: rec, Err: fmt.Errorf("registry: %s is on the ignore list", rec.Name)})
			continue
		}

		dev, err := r.openInputLocked(rec)
		if err != nil {
			log.Error().Err(err).Str("device", rec.Name).Int("port", rec.Port).Msg("open input failed")
			failures = append(failures, OpenFailure{Record: rec, Err: err})
			continue
		}
		opened = append(opened, dev)
	}

	return opened, failures
}

func (r *Registry) openInputLocked(rec PortRecord) (*inputDevice, error) {
	key := rec.key()

	if existing, ok := r.inputs[key]; ok && existing.IsOpen() {
		return existing, nil
	}

	if recycled, ok := r.recycledIn[key]; ok {
		if err := recycled.in.Open(); err != nil {
			return nil, fmt.Errorf("registry: reopen input %s/%d: %w", rec.Name, rec.Port, err)
		}
		recycled.open = true
		delete(r.recycledIn, key)
		r.inputs[key] = recycled
		return recycled, nil
	}

	backend, err := findIn(rec)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(); err != nil {
		return nil, fmt.Errorf("registry: open input %s/%d: %w", rec.Name, rec.Port, err)
	}

	dev := &inputDevice{record: rec, in: backend, open: true}
	r.inputs[key] = dev
	return dev, nil
}

// OpenOutputs opens every named output record; same batch-failure
// semantics as OpenInputs.
func (r *Registry) OpenOutputs(records ...PortRecord) ([]Output, []OpenFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var opened []Output
	var failures []OpenFailure

	for _, rec := range records {
		if r.isIgnored(rec.Name) {
			failures = append(failures, OpenFailure{Record: rec, Err: fmt.Errorf("registry: %s is on the ignore list", rec.Name)})
			continue
		}

		dev, err := r.openOutputLocked(rec)
		if err != nil {
			failures = append(failures, OpenFailure{Record: rec, Err: err})
			continue
		}
		opened = append(opened, dev)
	}

	return opened, failures
}

func (r *Registry) openOutputLocked(rec PortRecord) (*outputDevice, error) {
	key := rec.key()

	if existing, ok := r.outputs[key]; ok && existing.IsOpen() {
		return existing, nil
	}

	if recycled, ok := r.recycledOut[key]; ok {
		if err := recycled.out.Open(); err != nil {
			return nil, fmt.Errorf("registry: reopen output %s/%d: %w", rec.Name, rec.Port, err)
		}
		recycled.open = true
		delete(r.recycledOut, key)
		r.outputs[key] = recycled
		return recycled, nil
	}

	backend, err := findOut(rec)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(); err != nil {
		return nil, fmt.Errorf("registry: open output %s/%d: %w", rec.Name, rec.Port, err)
	}

	dev := &outputDevice{record: rec, out: backend, open: true}
	r.outputs[key] = dev
	return dev, nil
}

// OpenAllInputs opens every currently visible input port the backend
// reports, regardless of whether a nickname has been assigned yet.
func (r *Registry) OpenAllInputs() ([]Input, []OpenFailure) {
	var records []PortRecord
	byName := map[string]int{}
	for _, p := range midi.GetInPorts() {
		name := p.String()
		idx := byName[name]
		byName[name] = idx + 1
		records = append(records, PortRecord{Name: name, Port: idx})
	}
	return r.OpenInputs(records...)
}

// OpenAllOutputs opens every currently visible output port the
// backend reports, regardless of whether a nickname has been
// assigned yet. Used by the -a/--all CLI mode, which bypasses
// mappings entirely and routes every input to every output.
func (r *Registry) OpenAllOutputs() ([]Output, []OpenFailure) {
	var records []PortRecord
	byName := map[string]int{}
	for _, p := range midi.GetOutPorts() {
		name := p.String()
		idx := byName[name]
		byName[name] = idx + 1
		records = append(records, PortRecord{Name: name, Port: idx})
	}
	return r.OpenOutputs(records...)
}

// CloseDevice closes and recycles the device at (name, port), placing
// its backend object into the recycle pool so a future open reuses it
// instead of instantiating a new one.
func (r *Registry) CloseDevice(name string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := portKey{name: name, port: port}

	if in, ok := r.inputs[key]; ok {
		err := in.Close()
		delete(r.inputs, key)
		r.recycledIn[key] = in
		return err
	}
	if out, ok := r.outputs[key]; ok {
		err := out.Close()
		delete(r.outputs, key)
		r.recycledOut[key] = out
		return err
	}
	return nil
}

// DeviceMap returns every currently open device keyed by (name, port).
func (r *Registry) DeviceMap() map[string]Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Device, len(r.inputs)+len(r.outputs))
	for k, v := range r.inputs {
		out[fmt.Sprintf("%s/%d", k.name, k.port)] = v
	}
	for k, v := range r.outputs {
		out[fmt.Sprintf("%s/%d", k.name, k.port)] = v
	}
	return out
}

// DeviceMapByName returns every open device (input or output) whose
// PortRecord.Name matches name.
func (r *Registry) DeviceMapByName(name string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for k, v := range r.inputs {
		if k.name == name {
			out = append(out, v)
		}
	}
	for k, v := range r.outputs {
		if k.name == name {
			out = append(out, v)
		}
	}
	return out
}

// HandleAdd reacts to a hotplug add notification for the named device,
// opening it if hotplug is enabled and it is not ignored. Callers
// (the router's mapping layer) use the returned Input/Output, if any,
// to re-bind dispatchers.
func (r *Registry) HandleAdd(rec PortRecord, wantInput bool) (Device, error) {
	r.mu.RLock()
	hotplug := r.hotplug
	r.mu.RUnlock()

	if !hotplug {
		return nil, nil
	}

	log.Info().Str("device", rec.Name).Int("port", rec.Port).Bool("input", wantInput).Msg("hotplug add")

	if wantInput {
		opened, failures := r.OpenInputs(rec)
		if len(failures) > 0 {
			return nil, failures[0].Err
		}
		if len(opened) == 0 {
			return nil, nil
		}
		return opened[0], nil
	}

	opened, failures := r.OpenOutputs(rec)
	if len(failures) > 0 {
		return nil, failures[0].Err
	}
	if len(opened) == 0 {
		return nil, nil
	}
	return opened[0], nil
}

// HandleRemove closes and recycles the named device on a hotplug
// remove notification. A mapping referencing it remains defined but
// keeps its closed, unsubscribed handle; neither this method nor
// HandleAdd re-subscribes a mapping's dispatcher.
func (r *Registry) HandleRemove(name string, port int) error {
	log.Info().Str("device", name).Int("port", port).Msg("hotplug remove")
	return r.CloseDevice(name, port)
}

// OnExit closes every open device, input and output alike.
func (r *Registry) OnExit() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, in := range r.inputs {
		if err := in.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.inputs, key)
	}
	for key, out := range r.outputs {
		if err := out.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.outputs, key)
	}
	return errs
}

// ListPorts returns a (name, port) summary of every connected MIDI
// device, input and output, for the CLI's --list flag.
func ListPorts() []PortRecord {
	var out []PortRecord
	byName := map[string]int{}
	for _, p := range midi.GetInPorts() {
		name := p.String()
		idx := byName["in:"+name]
		byName["in:"+name] = idx + 1
		out = append(out, PortRecord{Name: name, Port: idx})
	}
	byName = map[string]int{}
	for _, p := range midi.GetOutPorts() {
		name := p.String()
		idx := byName["out:"+name]
		byName["out:"+name] = idx + 1
		out = append(out, PortRecord{Name: name, Port: idx})
	}
	return out
}

func findIn(rec PortRecord) (drivers.In, error) {
	matches := lo.Filter(midi.GetInPorts(), func(p drivers.In, _ int) bool {
		return p.String() == rec.Name
	})
	if rec.Port >= len(matches) {
		return nil, fmt.Errorf("registry: no input port named %q at index %d", rec.Name, rec.Port)
	}
	return matches[rec.Port], nil
}

func findOut(rec PortRecord) (drivers.Out, error) {
	matches := lo.Filter(midi.GetOutPorts(), func(p drivers.Out, _ int) bool {
		return p.String() == rec.Name
	})
	if rec.Port >= len(matches) {
		return nil, fmt.Errorf("registry: no output port named %q at index %d", rec.Name, rec.Port)
	}
	return matches[rec.Port], nil
}
