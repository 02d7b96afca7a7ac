// Package message implements the MIDI message model: parsing and
// serializing the wire bytes, and the copy-on-mutate value type the
// filter pipeline operates on.
//
// Layout follows the MIDI 1.0 spec: a channel message's status byte
// splits into a 4-bit command nibble and a 4-bit channel nibble; system
// messages (0xF0-0xFF) carry no channel. Decoding is grounded on the
// status-byte/running-status walk used for tempo-map extraction in
// gomidi-backed MIDI players; the Type/Getter split mirrors the
// gitlab.com/gomidi/midi/v2 API (Type(), GetNoteOn(...), ...) that the
// rest of this module builds on at the device boundary.
package message

import "fmt"

// Type enumerates the MIDI message kinds the router understands.
type Type int

const (
	TypeUnknown Type = iota
	TypeNoteOff
	TypeNoteOn
	TypePolyAftertouch
	TypeControlChange
	TypeProgramChange
	TypeChannelAftertouch
	TypePitchBend
	TypeSysEx
	TypeClock
	TypeStart
	TypeContinue
	TypeStop
	TypeSongPosition
	TypeActiveSensing
	TypeSystemReset
)

var typeNames = map[Type]string{
	TypeNoteOff:           "NoteOff",
	TypeNoteOn:            "NoteOn",
	TypePolyAftertouch:    "PolyAftertouch",
	TypeControlChange:     "ControlChange",
	TypeProgramChange:     "ProgramChange",
	TypeChannelAftertouch: "ChannelAftertouch",
	TypePitchBend:         "PitchBend",
	TypeSysEx:             "SysEx",
	TypeClock:             "Clock",
	TypeStart:             "Start",
	TypeContinue:          "Continue",
	TypeStop:              "Stop",
	TypeSongPosition:      "SongPosition",
	TypeActiveSensing:     "ActiveSensing",
	TypeSystemReset:       "SystemReset",
}

var namesToType = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// TypeFromString resolves a type's canonical name, as used in
// configuration documents (e.g. a MessageType filter's whitelist).
func TypeFromString(s string) (Type, bool) {
	t, ok := namesToType[s]
	return t, ok
}

// IsTypeValid reports whether t is one of the known message kinds.
func IsTypeValid(t Type) bool {
	_, ok := typeNames[t]
	return ok
}

// String returns t's canonical name, or "Unknown" for an unrecognized value.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// NoChannel marks a message as carrying no channel (system messages).
const NoChannel = -1

// Message is an immutable MIDI event. Every mutator on this type
// returns a new value; none of them touch the receiver, so a message
// handed to several fan-out branches can never leak a mutation from
// one branch into a sibling.
type Message struct {
	kind    Type
	channel int // NoChannel for messages without one
	note    int
	velocity int
	controller int
	value   int
	program int
	pitch   int // -8192..8191, relative to center
	sysex   []byte
	raw     []byte
}

// Kind returns the message's type.
func (m Message) Kind() Type { return m.kind }

// Channel returns the message's channel (0-15) and whether it has one.
func (m Message) Channel() (int, bool) {
	if m.channel == NoChannel {
		return 0, false
	}
	return m.channel, true
}

func (m Message) Note() int       { return m.note }
func (m Message) Velocity() int   { return m.velocity }
func (m Message) Controller() int { return m.controller }
func (m Message) Value() int      { return m.value }
func (m Message) Program() int    { return m.program }
func (m Message) PitchBend() int  { return m.pitch }

// SysEx returns the raw sysex payload (including the F0/F7 brackets)
// for a SysEx message, or nil otherwise.
func (m Message) SysEx() []byte {
	if m.kind != TypeSysEx {
		return nil
	}
	out := make([]byte, len(m.sysex))
	copy(out, m.sysex)
	return out
}

// TypeString returns the canonical name of the message's type.
func (m Message) TypeString() string { return m.kind.String() }

// Bytes returns the message's serialized wire form. The returned slice
// is a defensive copy; mutating it never affects m.
func (m Message) Bytes() []byte {
	out := make([]byte, len(m.raw))
	copy(out, m.raw)
	return out
}

// Copy returns a deep-independent value so that fan-out (the Chord
// filter in particular) cannot let one branch's later mutation bleed
// into another branch or into the original message.
func (m Message) Copy() Message {
	out := m
	out.raw = append([]byte(nil), m.raw...)
	out.sysex = append([]byte(nil), m.sysex...)
	return out
}

// WithChannel returns a copy of m with its channel remapped, used by
// the Channel filter. Non-channel messages are returned unchanged.
func (m Message) WithChannel(ch int) Message {
	if m.channel == NoChannel {
		return m.Copy()
	}
	next := m
	next.channel = ch
	next.raw = nil
	next.encode()
	return next
}

// WithNote returns a copy of m with note replaced, used by Transpose
// and Chord. Only meaningful for NoteOn/NoteOff/PolyAftertouch.
func (m Message) WithNote(note int) Message {
	next := m
	next.note = note
	next.raw = nil
	next.encode()
	return next
}

// WithVelocity returns a copy of m with velocity replaced, used by the
// Velocity filter. Only meaningful for NoteOn/NoteOff.
func (m Message) WithVelocity(v int) Message {
	next := m
	next.velocity = v
	next.raw = nil
	next.encode()
	return next
}

// FromBytes decodes a raw MIDI byte sequence into a Message.
func FromBytes(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, fmt.Errorf("message: empty byte sequence")
	}

	status := b[0]

	if status == 0xF0 {
		return fromSysEx(b)
	}

	if status >= 0xF0 {
		return fromSystemRealtime(status, b)
	}

	if status < 0x80 {
		return Message{}, fmt.Errorf("message: %#x is not a status byte", status)
	}

	command := status & 0xF0
	channel := int(status & 0x0F)

	switch command {
	case 0x80:
		return newChannelMsg(TypeNoteOff, channel, b, 2, func(m *Message) {
			m.note, m.velocity = int(b[1]), dataByte(b, 2)
		})
	case 0x90:
		return newChannelMsg(TypeNoteOn, channel, b, 2, func(m *Message) {
			m.note, m.velocity = int(b[1]), dataByte(b, 2)
		})
	case 0xA0:
		return newChannelMsg(TypePolyAftertouch, channel, b, 2, func(m *Message) {
			m.note, m.value = int(b[1]), dataByte(b, 2)
		})
	case 0xB0:
		return newChannelMsg(TypeControlChange, channel, b, 2, func(m *Message) {
			m.controller, m.value = int(b[1]), dataByte(b, 2)
		})
	case 0xC0:
		return newChannelMsg(TypeProgramChange, channel, b, 1, func(m *Message) {
			m.program = int(b[1])
		})
	case 0xD0:
		return newChannelMsg(TypeChannelAftertouch, channel, b, 1, func(m *Message) {
			m.value = int(b[1])
		})
	case 0xE0:
		return newChannelMsg(TypePitchBend, channel, b, 2, func(m *Message) {
			lsb, msb := dataByte(b, 1), dataByte(b, 2)
			m.pitch = (msb<<7 | lsb) - 8192
		})
	default:
		return Message{}, fmt.Errorf("message: unsupported status byte %#x", status)
	}
}

func dataByte(b []byte, i int) int {
	if i < len(b) {
		return int(b[i])
	}
	return 0
}

func newChannelMsg(kind Type, channel int, b []byte, minLen int, set func(*Message)) (Message, error) {
	if len(b)-1 < minLen {
		return Message{}, fmt.Errorf("message: %s requires %d data byte(s), got %d", kind, minLen, len(b)-1)
	}
	m := Message{kind: kind, channel: channel}
	set(&m)
	m.encode()
	return m, nil
}

func fromSysEx(b []byte) (Message, error) {
	if b[len(b)-1] != 0xF7 {
		return Message{}, fmt.Errorf("message: sysex must end with 0xF7")
	}
	m := Message{kind: TypeSysEx, channel: NoChannel, sysex: append([]byte(nil), b...)}
	m.raw = append([]byte(nil), b...)
	return m, nil
}

// TODO: SongPosition (0xF2) carries two data bytes that get dropped
// here; add them to raw if routing ever needs to carry SongPosition.
func fromSystemRealtime(status byte, b []byte) (Message, error) {
	kind, ok := realtimeKind(status)
	if !ok {
		return Message{}, fmt.Errorf("message: unsupported system byte %#x", status)
	}
	m := Message{kind: kind, channel: NoChannel}
	m.raw = []byte{status}
	return m, nil
}

func realtimeKind(status byte) (Type, bool) {
	switch status {
	case 0xF8:
		return TypeClock, true
	case 0xFA:
		return TypeStart, true
	case 0xFB:
		return TypeContinue, true
	case 0xFC:
		return TypeStop, true
	case 0xF2:
		return TypeSongPosition, true
	case 0xFE:
		return TypeActiveSensing, true
	case 0xFF:
		return TypeSystemReset, true
	default:
		return TypeUnknown, false
	}
}

// Fields carries the properties used to build a Message from scratch,
// as an alternative to decoding raw bytes. Zero-valued fields that a
// kind doesn't use are simply ignored by encode().
type Fields struct {
	Channel    int // NoChannel for system messages
	Note       int
	Velocity   int
	Controller int
	Value      int
	Program    int
	PitchBend  int
	SysEx      []byte
}

// FromProperties builds a Message of the given kind from a field set.
func FromProperties(kind Type, f Fields) (Message, error) {
	if !IsTypeValid(kind) {
		return Message{}, fmt.Errorf("message: unknown type %v", kind)
	}

	m := Message{
		kind:       kind,
		channel:    f.Channel,
		note:       f.Note,
		velocity:   f.Velocity,
		controller: f.Controller,
		value:      f.Value,
		program:    f.Program,
		pitch:      f.PitchBend,
	}

	if kind == TypeSysEx {
		if len(f.SysEx) < 2 || f.SysEx[0] != 0xF0 || f.SysEx[len(f.SysEx)-1] != 0xF7 {
			return Message{}, fmt.Errorf("message: sysex payload must start with 0xF0 and end with 0xF7")
		}
		m.channel = NoChannel
		m.sysex = append([]byte(nil), f.SysEx...)
		m.raw = append([]byte(nil), f.SysEx...)
		return m, nil
	}

	if isRealtimeKind(kind) {
		m.channel = NoChannel
	}

	m.encode()
	return m, nil
}

func isRealtimeKind(kind Type) bool {
	switch kind {
	case TypeClock, TypeStart, TypeContinue, TypeStop, TypeActiveSensing, TypeSystemReset, TypeSongPosition:
		return true
	default:
		return false
	}
}

// encode (re)computes m.raw from the current field values. Called
// after every mutation so Bytes() never has to encode lazily under a
// caller-visible race.
func (m *Message) encode() {
	if m.kind == TypeSysEx {
		if m.raw == nil {
			m.raw = append([]byte(nil), m.sysex...)
		}
		return
	}

	if isRealtimeKind(m.kind) {
		status, ok := statusForRealtime(m.kind)
		if ok {
			m.raw = []byte{status}
		}
		return
	}

	ch := byte(m.channel & 0x0F)
	switch m.kind {
	case TypeNoteOff:
		m.raw = []byte{0x80 | ch, byte(m.note), byte(m.velocity)}
	case TypeNoteOn:
		m.raw = []byte{0x90 | ch, byte(m.note), byte(m.velocity)}
	case TypePolyAftertouch:
		m.raw = []byte{0xA0 | ch, byte(m.note), byte(m.value)}
	case TypeControlChange:
		m.raw = []byte{0xB0 | ch, byte(m.controller), byte(m.value)}
	case TypeProgramChange:
		m.raw = []byte{0xC0 | ch, byte(m.program)}
	case TypeChannelAftertouch:
		m.raw = []byte{0xD0 | ch, byte(m.value)}
	case TypePitchBend:
		v := m.pitch + 8192
		m.raw = []byte{0xE0 | ch, byte(v & 0x7F), byte((v >> 7) & 0x7F)}
	}
}

func statusForRealtime(kind Type) (byte, bool) {
	switch kind {
	case TypeClock:
		return 0xF8, true
	case TypeSongPosition:
		return 0xF2, true
	case TypeStart:
		return 0xFA, true
	case TypeContinue:
		return 0xFB, true
	case TypeStop:
		return 0xFC, true
	case TypeActiveSensing:
		return 0xFE, true
	case TypeSystemReset:
		return 0xFF, true
	default:
		return 0, false
	}
}
