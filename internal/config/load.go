package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse validates and unmarshals a configuration document. Returned
// errors are configuration errors per spec.md §7.1 - fatal at initial
// load, logged-and-skipped when encountered during a USB sync.
func Parse(raw []byte) (*RouterConfiguration, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}

	cfg := &RouterConfiguration{Options: Options{Hotplug: true}}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the configuration document at path.
func Load(path string) (*RouterConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Marshal serializes cfg back to its document form, used both to
// write the live snapshot (§4.6's reverse operation) and to sync the
// local document out to a removable drive.
func Marshal(cfg *RouterConfiguration) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *RouterConfiguration) error {
	raw, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
