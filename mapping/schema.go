package mapping

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/groundstream/errors"
)

// profileSchema is the JSON Schema every profile document must satisfy
// before it is unmarshaled. Static validation in NewProfile covers the
// semantic rules the schema cannot express.
const profileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "groundstream device profile",
  "type": "object",
  "required": ["name"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "fields": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "code", "field"],
        "additionalProperties": false,
        "properties": {
          "kind": {"type": "string", "minLength": 1},
          "code": {"type": "integer", "minimum": 0, "maximum": 255},
          "field": {"type": "string", "minLength": 1}
        }
      }
    },
    "overrides": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["device", "kind", "code", "field"],
        "additionalProperties": false,
        "properties": {
          "device": {"type": "integer", "minimum": 0, "maximum": 255},
          "kind": {"type": "string", "minLength": 1},
          "code": {"type": "integer", "minimum": 0, "maximum": 255},
          "field": {"type": "string", "minLength": 1}
        }
      }
    },
    "commands": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 255}
    },
    "rocket_types": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {"type": "string", "minLength": 1}
    }
  }
}`

// LoadProfile reads, schema-validates and builds a profile from a JSON
// document on disk.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Profile", "LoadProfile", "read profile document")
	}
	return ParseProfile(data)
}

// ParseProfile schema-validates and builds a profile from raw JSON.
func ParseProfile(data []byte) (*Profile, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(profileSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Profile", "ParseProfile", "run schema validation")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, errors.WrapInvalid(
			errors.New("schema violations: "+strings.Join(details, "; ")),
			"Profile", "ParseProfile", "validate document against schema",
		)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Profile", "ParseProfile", "unmarshal document")
	}
	return NewProfile(doc)
}
