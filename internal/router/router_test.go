package router

import (
	"fmt"
	"testing"

	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/registry"
)

type fakeInput struct {
	name     string
	port     int
	open     bool
	handler  registry.Handler
}

func (f *fakeInput) Name() string     { return f.name }
func (f *fakeInput) Port() int        { return f.port }
func (f *fakeInput) Nickname() string { return f.name }
func (f *fakeInput) IsOpen() bool     { return f.open }
func (f *fakeInput) Close() error     { f.open = false; return nil }
func (f *fakeInput) Subscribe(h registry.Handler) error {
	f.handler = h
	return nil
}
func (f *fakeInput) Unsubscribe() { f.handler = nil }

func (f *fakeInput) deliver(data []byte) {
	if f.handler != nil {
		f.handler(data, 0)
	}
}

type fakeOutput struct {
	name string
	port int
	sent [][]byte
	fail bool
}

func (f *fakeOutput) Name() string     { return f.name }
func (f *fakeOutput) Port() int        { return f.port }
func (f *fakeOutput) Nickname() string { return f.name }
func (f *fakeOutput) IsOpen() bool     { return true }
func (f *fakeOutput) Close() error     { return nil }
func (f *fakeOutput) Send(data []byte) error {
	if f.fail {
		return fmt.Errorf("fake: send failed")
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}

func TestMapping_ActivateInstallsDispatchOnEveryInput(t *testing.T) {
	in1 := &fakeInput{name: "A"}
	in2 := &fakeInput{name: "B"}
	m := &Mapping{Name: "m", Inputs: []registry.Input{in1, in2}}

	called := 0
	if err := m.Activate(func(data []byte, ts int32) { called++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in1.deliver([]byte{0x90, 60, 100})
	in2.deliver([]byte{0x90, 61, 100})

	if called != 2 {
		t.Fatalf("expected dispatch called twice, got %d", called)
	}
	if !m.IsActivated() {
		t.Fatal("mapping should report activated")
	}
}

func TestMapping_DeactivateUnbindsInputs(t *testing.T) {
	in := &fakeInput{name: "A"}
	m := &Mapping{Name: "m", Inputs: []registry.Input{in}}

	called := 0
	m.Activate(func(data []byte, ts int32) { called++ })
	m.Deactivate()
	in.deliver([]byte{0x90, 60, 100})

	if called != 0 {
		t.Fatal("deactivated mapping should not dispatch")
	}
	if m.IsActivated() {
		t.Fatal("mapping should report deactivated")
	}
}

func TestMapping_BroadcastVisitsOutputsInOrderAndToleratesFailure(t *testing.T) {
	out1 := &fakeOutput{name: "first", fail: true}
	out2 := &fakeOutput{name: "second"}
	m := &Mapping{Name: "m", Outputs: []registry.Output{out1, out2}}

	m.Broadcast([]byte{0xF8})

	if len(out2.sent) != 1 {
		t.Fatalf("second output should still receive the broadcast despite first failing, got %d sends", len(out2.sent))
	}
}

func TestDedupOutputs(t *testing.T) {
	a := &fakeOutput{name: "X", port: 0}
	b := &fakeOutput{name: "X", port: 0}
	c := &fakeOutput{name: "Y", port: 0}

	deduped := DedupOutputs([]registry.Output{a, b, c})
	if len(deduped) != 2 {
		t.Fatalf("expected 2 outputs after dedup, got %d", len(deduped))
	}
}

func TestRouter_HandleDropsWhenPausedOrStopped(t *testing.T) {
	out := &fakeOutput{name: "O"}
	m := &Mapping{Name: "m", Outputs: []registry.Output{out}}
	r := New()
	r.AddMapping(m)

	handle := r.Handle(m)

	r.SetPaused(true)
	handle([]byte{0x90, 60, 100}, 0)
	if len(out.sent) != 0 {
		t.Fatal("paused router should not broadcast")
	}

	r.SetPaused(false)
	handle([]byte{0x90, 60, 100}, 0)
	if len(out.sent) != 1 {
		t.Fatalf("expected one broadcast once unpaused, got %d", len(out.sent))
	}

	r.Stop()
	handle([]byte{0x90, 60, 100}, 0)
	if len(out.sent) != 1 {
		t.Fatalf("stopped router should not broadcast, got %d sends", len(out.sent))
	}
}

func TestRouter_HandleBroadcastsFilterResults(t *testing.T) {
	out := &fakeOutput{name: "O"}
	transpose := &filter.Filter{Kind: filter.KindTranspose, Transpose: filter.NewTranspose(1)}
	m := &Mapping{Name: "m", Outputs: []registry.Output{out}, Filters: []*filter.Filter{transpose}}
	r := New()
	r.AddMapping(m)

	r.Handle(m)([]byte{0x90, 60, 100}, 0)

	if len(out.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(out.sent))
	}
	if out.sent[0][1] != 72 { // 60 + 1*12
		t.Fatalf("note = %d, want 72", out.sent[0][1])
	}
}

func TestRouter_HandleConsumedBroadcastsNothing(t *testing.T) {
	out := &fakeOutput{name: "O"}
	toggled := &filter.Filter{Kind: filter.KindTranspose}
	toggled.Adjusters = []*filter.AdjusterRule{filter.ToggleRule(filter.Trigger{"controller": 80, "value": 127})}
	m := &Mapping{Name: "m", Outputs: []registry.Output{out}, Filters: []*filter.Filter{toggled}}
	r := New()
	r.AddMapping(m)

	r.Handle(m)([]byte{0xB0, 80, 127}, 0)

	if len(out.sent) != 0 {
		t.Fatalf("consumed pipeline should broadcast nothing, got %d sends", len(out.sent))
	}
}

func TestRouter_StopDeactivatesMappingsAndStopsClock(t *testing.T) {
	in := &fakeInput{name: "A"}
	m := &Mapping{Name: "m", Inputs: []registry.Input{in}}
	r := New()
	r.AddMapping(m)
	m.Activate(func([]byte, int32) {})

	stopped := false
	r.SetClock(clockStopFunc(func() { stopped = true }))

	r.Stop()

	if m.IsActivated() {
		t.Fatal("Stop should deactivate every mapping")
	}
	if !stopped {
		t.Fatal("Stop should stop the attached clock")
	}
}

type clockStopFunc func()

func (f clockStopFunc) Shutdown() { f() }
