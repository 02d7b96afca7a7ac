package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema is spec.md §6's configuration document shape,
// loosely constrained (types and ranges only - the adjuster/filter
// "unknown keys are ignored" latitude from §4.6 means this schema
// intentionally does not forbid additional properties).
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "ignore": { "type": "array", "items": { "type": "string" } },
    "devices": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["name", "port"],
        "properties": {
          "name": { "type": "string" },
          "port": { "type": "integer", "minimum": 0 }
        }
      }
    },
    "mappings": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["inputs", "outputs"],
        "properties": {
          "inputs": { "type": "array", "items": { "type": "string" } },
          "outputs": { "type": "array", "items": { "type": "string" } },
          "listen": { "type": "integer" },
          "channels": {
            "type": "object",
            "properties": {
              "whitelist": { "type": "array", "items": { "type": "integer", "minimum": 1, "maximum": 16 } },
              "blacklist": { "type": "array", "items": { "type": "integer", "minimum": 1, "maximum": 16 } },
              "map": { "type": "object" }
            }
          },
          "velocity": {
            "type": "object",
            "properties": {
              "min": { "type": "integer", "minimum": 0, "maximum": 127 },
              "max": { "type": "integer", "minimum": 0, "maximum": 127 },
              "mode": { "type": "string", "enum": ["clip", "drop", "scaled"] }
            }
          },
          "transpose": {
            "type": "object",
            "properties": {
              "step": { "type": "integer", "minimum": -10, "maximum": 10 }
            }
          },
          "chord": {
            "type": "object",
            "properties": {
              "chord": { "type": "string" }
            }
          }
        }
      }
    },
    "clock": {
      "type": "object",
      "properties": {
        "inputs": { "type": "array", "items": { "type": "string" } },
        "outputs": { "type": "array", "items": { "type": "string" } },
        "bpm": { "type": "integer", "minimum": 60, "maximum": 300 },
        "ppqn": { "type": "integer", "minimum": 1 },
        "patternLength": { "type": "integer", "minimum": 0 },
        "tapEnabled": { "type": "boolean" },
        "adjusters": { "type": "object" }
      }
    },
    "options": {
      "type": "object",
      "properties": {
        "hotplug": { "type": "boolean" },
        "syncConfigToUsb": { "type": "boolean" },
        "verbose": { "type": "boolean" }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("pimidbox-config.json", bytes.NewReader([]byte(documentSchema))); err != nil {
		panic(fmt.Errorf("config: invalid embedded schema: %w", err))
	}
	compiledSchema = compiler.MustCompile("pimidbox-config.json")
}

// validate checks raw against the embedded schema before it is
// unmarshaled into a RouterConfiguration. Schema failures are
// configuration errors: fatal at initial load, logged-and-skipped on
// USB sync (spec.md §7.1).
func validate(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("config: schema validation failed: %w", err)
	}
	return nil
}
