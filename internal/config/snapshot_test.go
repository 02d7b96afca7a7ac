package config

import (
	"testing"

	"github.com/pimidbox/pimidbox/internal/clock"
	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/internal/router"
)

type fakeDevice struct {
	name, nickname string
	port           int
}

func (d *fakeDevice) Name() string     { return d.name }
func (d *fakeDevice) Port() int        { return d.port }
func (d *fakeDevice) Nickname() string { return d.nickname }
func (d *fakeDevice) IsOpen() bool     { return true }
func (d *fakeDevice) Close() error     { return nil }

type fakeInput struct{ *fakeDevice }

func (d *fakeInput) Subscribe(registry.Handler) error { return nil }
func (d *fakeInput) Unsubscribe()                     {}

type fakeOutput struct{ *fakeDevice }

func (d *fakeOutput) Send([]byte) error { return nil }

var _ registry.Input = (*fakeInput)(nil)
var _ registry.Output = (*fakeOutput)(nil)

func TestSnapshot_RecoversNicknamesAndFilters(t *testing.T) {
	rtr := router.New()
	rtr.AddMapping(&router.Mapping{
		Name:    "main",
		Inputs:  []registry.Input{&fakeInput{&fakeDevice{name: "USB MIDI Keyboard", nickname: "keys"}}},
		Outputs: []registry.Output{&fakeOutput{&fakeDevice{name: "Hardware Synth", nickname: "synth"}}},
		Filters: []*filter.Filter{
			{Kind: filter.KindChannel, Channel: filter.ChannelConfig{Whitelist: []int{1, 6}, Map: map[int]int{6: 1}}},
			{Kind: filter.KindChord, Chord: filter.ChordConfig{Chord: "MAJOR3"}},
		},
	})

	cfg := Snapshot(rtr, []string{"Unwanted"}, Options{Hotplug: true}, nil, nil, nil)

	if len(cfg.Ignore) != 1 || cfg.Ignore[0] != "Unwanted" {
		t.Errorf("ignore list not preserved: %v", cfg.Ignore)
	}
	if cfg.Devices["keys"].Name != "USB MIDI Keyboard" {
		t.Errorf("devices[keys] = %+v", cfg.Devices["keys"])
	}
	if cfg.Devices["synth"].Name != "Hardware Synth" {
		t.Errorf("devices[synth] = %+v", cfg.Devices["synth"])
	}

	m := cfg.Mappings["main"]
	if len(m.Inputs) != 1 || m.Inputs[0] != "keys" {
		t.Errorf("mapping inputs = %v", m.Inputs)
	}
	if m.Channels == nil || m.Channels.Map["6"] != 1 {
		t.Errorf("channels filter not recovered: %+v", m.Channels)
	}
	if m.Chord == nil || m.Chord.Chord != "MAJOR3" {
		t.Errorf("chord filter not recovered: %+v", m.Chord)
	}
}

func TestSnapshot_RecoversClockPPQNAndPatternLength(t *testing.T) {
	rtr := router.New()
	out := &fakeOutput{&fakeDevice{name: "Hardware Synth", nickname: "synth"}}
	clk := clock.New(48, 140, 8, []registry.Output{out})

	cfg := Snapshot(rtr, nil, Options{}, clk, []registry.Device{out}, nil)

	if cfg.Clock == nil {
		t.Fatal("expected a clock block in the snapshot")
	}
	if cfg.Clock.PPQN != 48 {
		t.Errorf("ppqn = %d, want 48", cfg.Clock.PPQN)
	}
	if cfg.Clock.PatternLength != 8 {
		t.Errorf("patternLength = %d, want 8", cfg.Clock.PatternLength)
	}
	if cfg.Clock.BPM != 140 {
		t.Errorf("bpm = %d, want 140", cfg.Clock.BPM)
	}
}
