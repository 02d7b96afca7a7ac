package config

import (
	"fmt"

	"github.com/pimidbox/pimidbox/internal/clock"
	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/internal/router"
)

// Snapshot is the reverse of Apply (spec.md §4.6): it walks the live
// router, its mappings' devices, and the clock, and reconstructs the
// document that would reproduce them. Device nicknames are recovered
// from registry.Device.Nickname() rather than kept in a side table,
// since every opened Device already carries the nickname it was
// opened under. The clock's adjusters and tapEnabled, and each
// mapping's listen value, are not recorded: a document that set them
// comes back with them absent.
func Snapshot(rtr *router.Router, ignore []string, opts Options, clk *clock.Clock, clockOutputs, clockInputs []registry.Device) *RouterConfiguration {
	cfg := &RouterConfiguration{
		Ignore:   ignore,
		Devices:  make(map[string]DeviceConfig),
		Mappings: make(map[string]MappingConfig),
		Options:  opts,
	}

	addDevice := func(d registry.Device) {
		cfg.Devices[d.Nickname()] = DeviceConfig{Name: d.Name(), Port: d.Port()}
	}

	for _, m := range rtr.Mappings() {
		if m.Name == clockControlMappingName {
			continue
		}
		mc := MappingConfig{}
		for _, in := range m.Inputs {
			addDevice(in)
			mc.Inputs = append(mc.Inputs, in.Nickname())
		}
		for _, out := range m.Outputs {
			addDevice(out)
			mc.Outputs = append(mc.Outputs, out.Nickname())
		}
		for _, f := range m.Filters {
			applyFilterToMapping(f, &mc)
		}
		cfg.Mappings[m.Name] = mc
	}

	if clk != nil {
		cc := &ClockConfig{
			BPM:           clk.Tempo(),
			PPQN:          clk.PPQN(),
			PatternLength: clk.PatternLength(),
		}
		for _, out := range clockOutputs {
			addDevice(out)
			cc.Outputs = append(cc.Outputs, out.Nickname())
		}
		for _, in := range clockInputs {
			addDevice(in)
			cc.Inputs = append(cc.Inputs, in.Nickname())
		}
		cfg.Clock = cc
	}

	return cfg
}

func applyFilterToMapping(f *filter.Filter, mc *MappingConfig) {
	switch f.Kind {
	case filter.KindChannel:
		m := make(map[string]int, len(f.Channel.Map))
		for k, v := range f.Channel.Map {
			m[fmt.Sprintf("%d", k)] = v
		}
		mc.Channels = &ChannelFilterConfig{
			Whitelist: f.Channel.Whitelist,
			Blacklist: f.Channel.Blacklist,
			Map:       m,
		}
	case filter.KindVelocity:
		mc.Velocity = &VelocityFilterConfig{
			Min:  f.Velocity.Min,
			Max:  f.Velocity.Max,
			Mode: velocityModeToString(f.Velocity.Mode),
		}
	case filter.KindTranspose:
		mc.Transpose = &TransposeFilterConfig{Step: f.Transpose.Step}
	case filter.KindChord:
		mc.Chord = &ChordFilterConfig{Chord: f.Chord.Chord}
	}
}
