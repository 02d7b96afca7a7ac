// Package filter implements the routing engine's per-mapping message
// pipeline: the five filter variants (Channel, MessageType, Velocity,
// Transpose, Chord), the Adjuster mechanism that lets an incoming
// control message reconfigure a filter at runtime, and the frontier
// algebra that threads a message through an ordered filter list.
//
// The source's dynamic class hierarchy (one subclass per variant,
// dispatch through an abstract _process) becomes a closed tagged
// union here: a single Filter struct carrying a Kind tag and
// variant-specific configuration, dispatched by a switch in Process.
// The whitelist/blacklist/remap shape for Channel is grounded on
// leafo-midirouter's ChannelFilter/NoteRangeFilter; membership checks
// use github.com/samber/lo the way the pack's functional-style
// routers do, in place of hand-rolled contains() loops.
package filter

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/pimidbox/pimidbox/internal/message"
)

// Kind tags which variant a Filter is.
type Kind int

const (
	KindChannel Kind = iota
	KindMessageType
	KindVelocity
	KindTranspose
	KindChord
)

// VelocityMode selects how the Velocity filter treats out-of-range
// values.
type VelocityMode int

const (
	VelocityClip VelocityMode = iota
	VelocityDrop
	VelocityScaled
)

// Chord templates: a fixed table of semitone offsets added to the
// triggering note. DISABLED silences the Chord filter entirely (an
// empty offset list fans out to nothing).
var ChordTemplates = map[string][]int{
	"DISABLED": {},
	"MAJOR3":   {0, 4, 7},
	"MINOR3":   {0, 3, 7},
	"MAJOR7TH": {0, 4, 7, 11},
	"MINOR7TH": {0, 3, 7, 10},
	"DOM7TH":   {0, 4, 7, 10},
	"SUS2":     {0, 2, 7},
	"SUS4":     {0, 5, 7},
	"OCTAVE":   {0, 12},
}

// ChannelConfig is KindChannel's configuration. Whitelist/Blacklist
// and the keys/values of Map are all 1-based channel numbers (1..16),
// matching the configuration document's wire format.
type ChannelConfig struct {
	Whitelist []int
	Blacklist []int
	Map       map[int]int
}

// MessageTypeConfig is KindMessageType's configuration.
type MessageTypeConfig struct {
	Whitelist []message.Type
	Blacklist []message.Type
}

// VelocityConfig is KindVelocity's configuration.
type VelocityConfig struct {
	Mode     VelocityMode
	Min, Max int
}

// TransposeConfig is KindTranspose's configuration. Step is clamped
// to [-10, 10] by NewTranspose.
type TransposeConfig struct {
	Step int
}

// ChordConfig is KindChord's configuration.
type ChordConfig struct {
	Chord string // key into ChordTemplates
}

// Trigger declares the fields an Adjuster must see to match an
// incoming message. A field mapped to an int requires numeric
// equality; mapped to true it requires only that the field be
// meaningful for the message's kind (present); false entries are
// inert and may be omitted.
type Trigger map[string]interface{}

// AdjusterRule is the typed replacement for the source's ad-hoc
// handler dictionary (spec §9): an explicit trigger predicate plus a
// value extractor, installed once and validated up front rather than
// compared by property bags at runtime.
type AdjusterRule struct {
	Name        string
	Description string
	Type        message.Type
	Trigger     Trigger
	ValueKey    string
	PotPickup   bool
	Handler     func(f *Filter, value int)

	lastValue     int
	haveLastValue bool
}

// Filter is one pipeline element: a tagged union over the five
// variants plus the pause flag and adjuster rules every variant
// shares.
type Filter struct {
	Kind      Kind
	Name      string
	Paused    bool
	Adjusters []*AdjusterRule

	Channel     ChannelConfig
	MessageType MessageTypeConfig
	Velocity    VelocityConfig
	Transpose   TransposeConfig
	Chord       ChordConfig
}

// NewTranspose clamps step into [-10, 10] per spec.md §4.3.
func NewTranspose(step int) TransposeConfig {
	if step < -10 {
		step = -10
	}
	if step > 10 {
		step = 10
	}
	return TransposeConfig{Step: step}
}

// Outcome is the result of running one message through one filter:
// zero messages with Consumed=false is a drop, one or more is a pass
// or fan-out, and Consumed=true means the whole pipeline should stop
// without broadcasting anything for this message.
type Outcome struct {
	Consumed bool
	Messages []message.Message
}

func passthrough(m message.Message) Outcome {
	return Outcome{Messages: []message.Message{m}}
}

func drop() Outcome {
	return Outcome{}
}

func consumed() Outcome {
	return Outcome{Consumed: true}
}

// Process runs one message through the filter: first its adjusters
// (which run even while paused, so pause itself can be toggled), then
// - if nothing matched - the variant-specific transform, or a
// pass-through if the filter is paused.
func (f *Filter) Process(m message.Message) Outcome {
	for _, rule := range f.Adjusters {
		if fireAdjuster(f, rule, m) {
			return consumed()
		}
	}

	if f.Paused {
		return passthrough(m)
	}

	switch f.Kind {
	case KindChannel:
		return f.processChannel(m)
	case KindMessageType:
		return f.processMessageType(m)
	case KindVelocity:
		return f.processVelocity(m)
	case KindTranspose:
		return f.processTranspose(m)
	case KindChord:
		return f.processChord(m)
	default:
		return passthrough(m)
	}
}

func (f *Filter) processChannel(m message.Message) Outcome {
	ch0, ok := m.Channel()
	if !ok {
		return passthrough(m)
	}
	ch := ch0 + 1 // 1-based, matching configuration

	if len(f.Channel.Whitelist) > 0 {
		if !lo.Contains(f.Channel.Whitelist, ch) {
			return drop()
		}
	} else if len(f.Channel.Blacklist) > 0 {
		if lo.Contains(f.Channel.Blacklist, ch) {
			return drop()
		}
	}

	if remapped, ok := f.Channel.Map[ch]; ok {
		m = m.WithChannel(remapped - 1)
	}

	return passthrough(m)
}

func (f *Filter) processMessageType(m message.Message) Outcome {
	kind := m.Kind()

	if len(f.MessageType.Whitelist) > 0 {
		if !lo.Contains(f.MessageType.Whitelist, kind) {
			return drop()
		}
	} else if len(f.MessageType.Blacklist) > 0 {
		if lo.Contains(f.MessageType.Blacklist, kind) {
			return drop()
		}
	}

	return passthrough(m)
}

func isVelocityKind(k message.Type) bool {
	return k == message.TypeNoteOn || k == message.TypeNoteOff
}

func (f *Filter) processVelocity(m message.Message) Outcome {
	if !isVelocityKind(m.Kind()) {
		return passthrough(m)
	}

	v := m.Velocity()
	min, max := f.Velocity.Min, f.Velocity.Max

	switch f.Velocity.Mode {
	case VelocityClip:
		out := v
		if out < min {
			out = min
		}
		if out > max {
			out = max
		}
		return passthrough(m.WithVelocity(out))
	case VelocityDrop:
		if v < min || v > max {
			return drop()
		}
		return passthrough(m)
	case VelocityScaled:
		out := scaleVelocity(v, min, max)
		return passthrough(m.WithVelocity(out))
	default:
		return passthrough(m)
	}
}

// scaleVelocity linearly maps 0..127 into [min,max] per spec.md §4.3:
// round(v * (max-min+1)/128) + min, capped at max (the rounding can
// land one above it at the top of the input range, e.g. 127 -> 64 for
// [0,63]).
func scaleVelocity(v, min, max int) int {
	span := float64(max - min + 1)
	scaled := math.Round(float64(v) * span / 128.0)
	out := int(scaled) + min
	if out > max {
		out = max
	}
	return out
}

func clampNote(n int) int {
	if n < 0 {
		return 0
	}
	if n > 127 {
		return 127
	}
	return n
}

func isNoteKind(k message.Type) bool {
	switch k {
	case message.TypeNoteOn, message.TypeNoteOff, message.TypePolyAftertouch:
		return true
	default:
		return false
	}
}

func (f *Filter) processTranspose(m message.Message) Outcome {
	if !isNoteKind(m.Kind()) {
		return passthrough(m)
	}
	note := clampNote(m.Note() + f.Transpose.Step*12)
	return passthrough(m.WithNote(note))
}

func (f *Filter) processChord(m message.Message) Outcome {
	if m.Kind() != message.TypeNoteOn && m.Kind() != message.TypeNoteOff {
		return passthrough(m)
	}

	offsets := ChordTemplates[f.Chord.Chord]

	var out []message.Message
	for _, off := range offsets {
		note := m.Note() + off
		if note < 0 || note > 127 {
			continue // silently dropped per spec.md §8, never clamped
		}
		out = append(out, m.WithNote(note).Copy())
	}
	return Outcome{Messages: out}
}

// fieldValue reports the value of a named field on m, and whether
// that field is meaningful for m's kind. Unmeaningful fields (e.g.
// "velocity" on a ControlChange) are treated as absent for adjuster
// matching purposes.
func fieldValue(m message.Message, name string) (int, bool) {
	switch name {
	case "channel":
		return m.Channel()
	case "note":
		if isNoteKind(m.Kind()) {
			return m.Note(), true
		}
		return 0, false
	case "velocity":
		if isVelocityKind(m.Kind()) {
			return m.Velocity(), true
		}
		return 0, false
	case "controller":
		if m.Kind() == message.TypeControlChange {
			return m.Controller(), true
		}
		return 0, false
	case "value":
		switch m.Kind() {
		case message.TypeControlChange, message.TypePolyAftertouch, message.TypeChannelAftertouch:
			return m.Value(), true
		}
		return 0, false
	case "program":
		if m.Kind() == message.TypeProgramChange {
			return m.Program(), true
		}
		return 0, false
	case "pitch":
		if m.Kind() == message.TypePitchBend {
			return m.PitchBend(), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// matches implements the Adjuster trigger predicate from spec.md
// §4.3: the message's type must equal the rule's, and every required
// field must be numerically equal (declared as a number) or present
// (declared true); optional (false) fields impose no constraint.
func (a *AdjusterRule) matches(m message.Message) (value int, ok bool) {
	if m.Kind() != a.Type {
		return 0, false
	}

	for field, want := range a.Trigger {
		got, present := fieldValue(m, field)
		switch w := want.(type) {
		case int:
			if !present || got != w {
				return 0, false
			}
		case bool:
			if w && !present {
				return 0, false
			}
		default:
			return 0, false
		}
	}

	return fieldValue(m, a.ValueKey)
}

// fireAdjuster matches rule against m and, on match, applies the
// pot-pickup gate before invoking the handler. Returns true if the
// message was consumed (i.e. the rule matched), matching spec.md
// §4.3's "on any match the filter returns consumed".
func fireAdjuster(f *Filter, rule *AdjusterRule, m message.Message) bool {
	value, ok := rule.matches(m)
	if !ok {
		return false
	}

	fire := true
	if rule.PotPickup && rule.haveLastValue {
		diff := value - rule.lastValue
		if diff < 0 {
			diff = -diff
		}
		fire = diff <= 1
	}

	rule.lastValue = value
	rule.haveLastValue = true

	if fire && rule.Handler != nil {
		rule.Handler(f, value)
	}

	return true
}

// ToggleRule builds a toggle adjuster: a non-pickup rule on
// ControlChange that flips Paused whenever it matches. Filters do not
// get one automatically; a filter has a toggle rule only when one is
// placed in its Adjusters.
func ToggleRule(trigger Trigger) *AdjusterRule {
	r := &AdjusterRule{
		Name:     "toggle",
		Type:     message.TypeControlChange,
		Trigger:  trigger,
		ValueKey: "value",
	}
	r.Handler = func(f *Filter, _ int) {
		f.Paused = !f.Paused
	}
	return r
}

// RunPipeline threads m through filters in order, implementing the
// frontier algebra of spec.md §4.3. Returns the broadcastable
// messages (possibly empty) and whether the pipeline was consumed by
// an adjuster, in which case the messages slice is always empty.
func RunPipeline(filters []*Filter, m message.Message) ([]message.Message, bool) {
	frontier := []message.Message{m}

	for _, f := range filters {
		var next []message.Message
		for _, msg := range frontier {
			r := f.Process(msg)
			if r.Consumed {
				return nil, true
			}
			next = append(next, r.Messages...)
		}
		frontier = next
	}

	return frontier, false
}

// ValidateChord reports an error if name is not a known chord
// template, used by configuration loading to fail fast rather than
// silently falling back to DISABLED.
func ValidateChord(name string) error {
	if _, ok := ChordTemplates[name]; !ok {
		return fmt.Errorf("filter: unknown chord template %q", name)
	}
	return nil
}
