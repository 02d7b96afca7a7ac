package config

import (
	"fmt"

	"github.com/pimidbox/pimidbox/internal/clock"
	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/internal/router"
	"github.com/pimidbox/pimidbox/pkg/logger"
)

var log = logger.Component("config")

// clockControlMappingName is the synthetic mapping buildClock installs
// to carry the clock's dedicated control filter on the router's input
// stream. It is an implementation artifact, not a user-declared
// mapping, so Snapshot excludes it from the document it reconstructs.
const clockControlMappingName = "__clock-control"

// Apply materializes cfg onto reg: it populates the ignore list,
// resolves every mapping's inputs/outputs/filters, and - if cfg.Clock
// is set - builds the clock without starting it. It returns the live Router
// and Clock (nil if none was configured) for the composition root to
// hold onto. Per spec.md §4.6, devices referenced by a mapping or the
// clock but missing from cfg.Devices are a configuration error; a
// device that fails to open is logged and dropped from that
// mapping's input/output list rather than aborting the whole load
// (spec.md §7.2).
func Apply(cfg *RouterConfiguration, reg *registry.Registry) (*router.Router, *clock.Clock, error) {
	reg.SetIgnored(cfg.Ignore)
	reg.SetHotplug(cfg.Options.Hotplug)

	rtr := router.New()

	for name, mc := range cfg.Mappings {
		m, err := buildMapping(name, mc, cfg.Devices, reg)
		if err != nil {
			return nil, nil, err
		}
		rtr.AddMapping(m)
	}

	var clk *clock.Clock
	if cfg.Clock != nil {
		var err error
		clk, err = buildClock(cfg.Clock, cfg.Devices, reg, rtr)
		if err != nil {
			return nil, nil, err
		}
		rtr.SetClock(clk)
	}

	return rtr, clk, nil
}

func resolveRecords(devices map[string]DeviceConfig, nicknames []string) ([]registry.PortRecord, error) {
	records := make([]registry.PortRecord, 0, len(nicknames))
	for _, nick := range nicknames {
		dc, ok := devices[nick]
		if !ok {
			return nil, fmt.Errorf("config: device %q is not declared under \"devices\"", nick)
		}
		records = append(records, registry.PortRecord{Name: dc.Name, Port: dc.Port, Nickname: nick})
	}
	return records, nil
}

func openInputsByNickname(reg *registry.Registry, devices map[string]DeviceConfig, nicknames []string) ([]registry.Input, error) {
	records, err := resolveRecords(devices, nicknames)
	if err != nil {
		return nil, err
	}
	opened, failures := reg.OpenInputs(records...)
	for _, f := range failures {
		log.Error().Err(f.Err).Str("device", f.Record.Nickname).Msg("dropping unreachable mapping input")
	}
	return orderByNickname(opened, nicknames, func(d registry.Input) string { return d.Nickname() }), nil
}

func openOutputsByNickname(reg *registry.Registry, devices map[string]DeviceConfig, nicknames []string) ([]registry.Output, error) {
	records, err := resolveRecords(devices, nicknames)
	if err != nil {
		return nil, err
	}
	opened, failures := reg.OpenOutputs(records...)
	for _, f := range failures {
		log.Error().Err(f.Err).Str("device", f.Record.Nickname).Msg("dropping unreachable mapping output")
	}
	return orderByNickname(opened, nicknames, func(d registry.Output) string { return d.Nickname() }), nil
}

// orderByNickname restores the document's declared input/output order
// after a batch open, which may return fewer entries (on failure) or
// reorder them internally.
func orderByNickname[D any](opened []D, nicknames []string, nick func(D) string) []D {
	byNick := make(map[string]D, len(opened))
	for _, d := range opened {
		byNick[nick(d)] = d
	}
	out := make([]D, 0, len(nicknames))
	for _, n := range nicknames {
		if d, ok := byNick[n]; ok {
			out = append(out, d)
		}
	}
	return out
}

func buildMapping(name string, mc MappingConfig, devices map[string]DeviceConfig, reg *registry.Registry) (*router.Mapping, error) {
	inputs, err := openInputsByNickname(reg, devices, mc.Inputs)
	if err != nil {
		return nil, fmt.Errorf("config: mapping %q: %w", name, err)
	}
	outputs, err := openOutputsByNickname(reg, devices, mc.Outputs)
	if err != nil {
		return nil, fmt.Errorf("config: mapping %q: %w", name, err)
	}

	filters, err := buildFilters(mc)
	if err != nil {
		return nil, fmt.Errorf("config: mapping %q: %w", name, err)
	}

	return &router.Mapping{
		Name:    name,
		Inputs:  inputs,
		Outputs: router.DedupOutputs(outputs),
		Filters: filters,
	}, nil
}

// buildFilters constructs the ordered filter list from whichever of
// the four recognized variant keys are present in mc. The canonical
// order - channels, velocity, transpose, chord - follows the order
// spec.md §6's document lists them in; any other key under a mapping
// is simply not one of json.Unmarshal's struct fields and is silently
// ignored, per spec.md §4.6.
func buildFilters(mc MappingConfig) ([]*filter.Filter, error) {
	var out []*filter.Filter

	if mc.Channels != nil {
		m := make(map[int]int, len(mc.Channels.Map))
		for k, v := range mc.Channels.Map {
			var from int
			if _, err := fmt.Sscanf(k, "%d", &from); err != nil {
				return nil, fmt.Errorf("channels.map key %q is not a channel number", k)
			}
			m[from] = v
		}
		out = append(out, &filter.Filter{
			Kind: filter.KindChannel,
			Name: "channels",
			Channel: filter.ChannelConfig{
				Whitelist: mc.Channels.Whitelist,
				Blacklist: mc.Channels.Blacklist,
				Map:       m,
			},
			Adjusters: []*filter.AdjusterRule{},
		})
	}

	if mc.Velocity != nil {
		mode, err := velocityModeFromString(mc.Velocity.Mode)
		if err != nil {
			return nil, err
		}
		out = append(out, &filter.Filter{
			Kind: filter.KindVelocity,
			Name: "velocity",
			Velocity: filter.VelocityConfig{
				Mode: mode,
				Min:  mc.Velocity.Min,
				Max:  mc.Velocity.Max,
			},
		})
	}

	if mc.Transpose != nil {
		out = append(out, &filter.Filter{
			Kind:      filter.KindTranspose,
			Name:      "transpose",
			Transpose: filter.NewTranspose(mc.Transpose.Step),
		})
	}

	if mc.Chord != nil {
		if err := filter.ValidateChord(mc.Chord.Chord); err != nil {
			return nil, err
		}
		out = append(out, &filter.Filter{
			Kind:  filter.KindChord,
			Name:  "chord",
			Chord: filter.ChordConfig{Chord: mc.Chord.Chord},
		})
	}

	return out, nil
}

func velocityModeFromString(s string) (filter.VelocityMode, error) {
	switch s {
	case "", "clip":
		return filter.VelocityClip, nil
	case "drop":
		return filter.VelocityDrop, nil
	case "scaled":
		return filter.VelocityScaled, nil
	default:
		return 0, fmt.Errorf("config: unknown velocity mode %q", s)
	}
}

func velocityModeToString(m filter.VelocityMode) string {
	switch m {
	case filter.VelocityDrop:
		return "drop"
	case filter.VelocityScaled:
		return "scaled"
	default:
		return "clip"
	}
}

// buildClock constructs the clock's outputs and its dedicated
// control filter, wires that filter into a synthetic mapping so the
// clock's adjusters run on the router's input stream (spec.md §4.5's
// "messages routed through a dedicated filter on the router's input
// stream") when the clock has inputs. The clock is returned stopped
// whatever tapEnabled or the inputs say; the composition root calls
// Play once start-up has finished opening devices.
func buildClock(cc *ClockConfig, devices map[string]DeviceConfig, reg *registry.Registry, rtr *router.Router) (*clock.Clock, error) {
	outputs, err := openOutputsByNickname(reg, devices, cc.Outputs)
	if err != nil {
		return nil, fmt.Errorf("config: clock: %w", err)
	}

	ppqn := cc.PPQN
	if ppqn <= 0 {
		ppqn = 24
	}
	clk := clock.New(ppqn, cc.BPM, cc.PatternLength, router.DedupOutputs(outputs))

	if len(cc.Inputs) > 0 {
		inputs, err := openInputsByNickname(reg, devices, cc.Inputs)
		if err != nil {
			return nil, fmt.Errorf("config: clock: %w", err)
		}

		ccs := controlCCsFromAdjusters(cc.Adjusters)
		controlFilter := clock.NewControlFilter(clk, ccs)

		controlMapping := &router.Mapping{
			Name:    clockControlMappingName,
			Inputs:  inputs,
			Filters: []*filter.Filter{controlFilter},
		}
		rtr.AddMapping(controlMapping)
	}

	return clk, nil
}

// controlCCsFromAdjusters resolves the three named adjuster entries
// spec.md §4.5 describes (play-pause, stop, tempo) to controller
// numbers. A document that omits "adjusters" entirely gets controller
// numbers 0 (play-pause), 1 (stop), and 2 (tempo) as a default bank -
// spec.md leaves the default unspecified, so these are chosen for
// determinism and documented in DESIGN.md.
func controlCCsFromAdjusters(adjusters map[string]AdjusterConfig) clock.ControlAdjusterCCs {
	ccs := clock.ControlAdjusterCCs{PlayPause: 0, Stop: 1, Tempo: 2}
	if a, ok := adjusters["play-pause"]; ok {
		ccs.PlayPause = a.Channel
	}
	if a, ok := adjusters["stop"]; ok {
		ccs.Stop = a.Channel
	}
	if a, ok := adjusters["tempo"]; ok {
		ccs.Tempo = a.Channel
	}
	return ccs
}
