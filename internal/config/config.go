// Package config implements the declarative configuration document
// that hydrates a live Router: the RouterConfiguration document type,
// JSON schema validation ahead of unmarshal, and the bidirectional
// binding between the document and the running registry/router/clock
// (spec.md §4.6).
//
// The document shape is spec.md §6's JSON schema reproduced as Go
// struct tags; schema validation follows 0h41-pulsekontrol's go.mod
// pairing of zerolog with santhosh-tekuri/jsonschema/v5 for exactly
// this kind of config-document gatekeeping.
package config

// DeviceConfig names one entry of the top-level "devices" map: the
// OS-reported device name and its sub-port index, keyed by nickname.
type DeviceConfig struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// ChannelFilterConfig is the wire form of filter.ChannelConfig.
// Whitelist/Blacklist entries and Map keys/values are 1-based channel
// numbers (1..16), matching spec.md §6.
type ChannelFilterConfig struct {
	Whitelist []int          `json:"whitelist,omitempty"`
	Blacklist []int          `json:"blacklist,omitempty"`
	Map       map[string]int `json:"map,omitempty"`
}

// VelocityFilterConfig is the wire form of filter.VelocityConfig.
type VelocityFilterConfig struct {
	Min  int    `json:"min"`
	Max  int    `json:"max"`
	Mode string `json:"mode"` // "clip" | "drop" | "scaled"
}

// TransposeFilterConfig is the wire form of filter.TransposeConfig.
type TransposeFilterConfig struct {
	Step int `json:"step"`
}

// ChordFilterConfig is the wire form of filter.ChordConfig.
type ChordFilterConfig struct {
	Chord string `json:"chord"`
}

// MappingConfig is one entry of the top-level "mappings" map.
// Unrecognized keys are ignored at unmarshal time per spec.md §4.6;
// Listen is parsed but not yet differentiated - every input is
// subscribed with sysex listening enabled regardless of its value
// (see internal/registry.Subscribe), so it exists purely to round-
// trip a document that sets it rather than to change behavior.
type MappingConfig struct {
	Inputs    []string               `json:"inputs"`
	Outputs   []string               `json:"outputs"`
	Listen    int                    `json:"listen,omitempty"`
	Channels  *ChannelFilterConfig   `json:"channels,omitempty"`
	Velocity  *VelocityFilterConfig  `json:"velocity,omitempty"`
	Transpose *TransposeFilterConfig `json:"transpose,omitempty"`
	Chord     *ChordFilterConfig     `json:"chord,omitempty"`
}

// AdjusterConfig is one entry of clock.adjusters. Type may be either
// a numeric status byte or a type name in the document; Channel here
// names the ControlChange controller number the rule listens on
// (spec.md §6 leaves this underspecified - resolved in DESIGN.md).
type AdjusterConfig struct {
	Type       interface{}            `json:"type"`
	Channel    int                    `json:"channel"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// ClockConfig is the top-level "clock" object.
type ClockConfig struct {
	Inputs        []string                  `json:"inputs,omitempty"`
	Outputs       []string                  `json:"outputs"`
	BPM           int                       `json:"bpm"`
	PPQN          int                       `json:"ppqn"`
	PatternLength int                       `json:"patternLength"`
	TapEnabled    bool                      `json:"tapEnabled"`
	Adjusters     map[string]AdjusterConfig `json:"adjusters,omitempty"`
}

// Options is the top-level "options" object.
type Options struct {
	Hotplug         bool `json:"hotplug"`
	SyncConfigToUsb bool `json:"syncConfigToUsb"`
	Verbose         bool `json:"verbose"`
}

// RouterConfiguration is the declarative form of a live Router, per
// spec.md §3 and §6.
type RouterConfiguration struct {
	Ignore   []string                 `json:"ignore,omitempty"`
	Devices  map[string]DeviceConfig  `json:"devices,omitempty"`
	Mappings map[string]MappingConfig `json:"mappings,omitempty"`
	Clock    *ClockConfig             `json:"clock,omitempty"`
	Options  Options                  `json:"options"`
}
