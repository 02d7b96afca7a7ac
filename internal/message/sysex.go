package message

import (
	"fmt"
	"os"
)

// LoadSysExFile reads a sysex dump from disk as a single long byte
// stream and builds the Message FromBytes would build from it,
// validating only the leading 0xF0 and trailing 0xF7 per spec.md
// §4.1 - no attempt is made to parse the interior payload, since its
// structure is device-specific.
func LoadSysExFile(path string) (Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Message{}, fmt.Errorf("message: read sysex file %s: %w", path, err)
	}
	if len(data) < 2 || data[0] != 0xF0 {
		return Message{}, fmt.Errorf("message: sysex file %s does not start with 0xF0", path)
	}
	return FromBytes(data)
}
