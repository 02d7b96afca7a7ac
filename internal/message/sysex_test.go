package message

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSysExFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.syx")
	payload := []byte{0xF0, 0x43, 0x10, 0x4C, 0xF7}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := LoadSysExFile(path)
	if err != nil {
		t.Fatalf("LoadSysExFile: %v", err)
	}
	if m.Kind() != TypeSysEx {
		t.Fatalf("Kind() = %v, want TypeSysEx", m.Kind())
	}
	if len(m.SysEx()) != len(payload) {
		t.Fatalf("SysEx() length = %d, want %d", len(m.SysEx()), len(payload))
	}
}

func TestLoadSysExFile_RejectsMissingF0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.syx")
	if err := os.WriteFile(path, []byte{0x00, 0xF7}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadSysExFile(path); err == nil {
		t.Fatal("expected an error for a file not starting with 0xF0")
	}
}

func TestLoadSysExFile_RejectsMissingF7(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.syx")
	if err := os.WriteFile(path, []byte{0xF0, 0x43, 0x00}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadSysExFile(path); err == nil {
		t.Fatal("expected an error for a file not ending with 0xF7")
	}
}
