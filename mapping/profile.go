// Package mapping translates decoded packets into telemetry bundles using a
// device profile. A profile names the wire field codes, the outbound
// command table and the rocket type registry for one vehicle family; it is
// validated once at construction and immutable afterwards.
package mapping

import (
	"fmt"
	"sort"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/telemetry"
)

type fieldKey struct {
	kind packet.Kind
	code uint8
}

type overrideKey struct {
	device telemetry.DeviceID
	kind   packet.Kind
	code   uint8
}

// Profile is an immutable device mapping. Build one with NewProfile,
// LoadProfile or Default.
type Profile struct {
	name        string
	fields      map[fieldKey]telemetry.FieldID
	overrides   map[overrideKey]telemetry.FieldID
	commands    map[string]uint8
	rocketTypes map[uint8]string
}

// FieldMapping binds one wire field code to a canonical field for a packet
// kind.
type FieldMapping struct {
	Kind  string `json:"kind"`
	Code  uint8  `json:"code"`
	Field string `json:"field"`
}

// DeviceOverride rebinds one wire field code for a single device.
type DeviceOverride struct {
	Device uint8  `json:"device"`
	Kind   string `json:"kind"`
	Code   uint8  `json:"code"`
	Field  string `json:"field"`
}

// Document is the serialized form of a profile.
type Document struct {
	Name        string           `json:"name"`
	Fields      []FieldMapping   `json:"fields"`
	Overrides   []DeviceOverride `json:"overrides,omitempty"`
	Commands    map[string]uint8 `json:"commands"`
	RocketTypes map[uint8]string `json:"rocket_types,omitempty"`
}

// NewProfile validates a document and builds the immutable profile.
// Validation failures are configuration errors; nothing is resolved at
// runtime by string lookup.
func NewProfile(doc Document) (*Profile, error) {
	if doc.Name == "" {
		return nil, invalidProfile("profile name is required")
	}

	p := &Profile{
		name:        doc.Name,
		fields:      make(map[fieldKey]telemetry.FieldID, len(doc.Fields)),
		overrides:   make(map[overrideKey]telemetry.FieldID, len(doc.Overrides)),
		commands:    make(map[string]uint8, len(doc.Commands)),
		rocketTypes: make(map[uint8]string, len(doc.RocketTypes)),
	}

	for _, fm := range doc.Fields {
		kind, ok := packet.ParseKind(fm.Kind)
		if !ok || !kind.Inbound() {
			return nil, invalidProfile("field mapping %q/0x%02x: unknown packet kind", fm.Kind, fm.Code)
		}
		field, ok := telemetry.FieldByName(fm.Field)
		if !ok {
			return nil, invalidProfile("field mapping %s/0x%02x: unknown field %q", fm.Kind, fm.Code, fm.Field)
		}
		key := fieldKey{kind: kind, code: fm.Code}
		if _, dup := p.fields[key]; dup {
			return nil, invalidProfile("field mapping %s/0x%02x: duplicate wire code", fm.Kind, fm.Code)
		}
		p.fields[key] = field
	}

	for _, ov := range doc.Overrides {
		kind, ok := packet.ParseKind(ov.Kind)
		if !ok || !kind.Inbound() {
			return nil, invalidProfile("override device %d %q/0x%02x: unknown packet kind", ov.Device, ov.Kind, ov.Code)
		}
		field, ok := telemetry.FieldByName(ov.Field)
		if !ok {
			return nil, invalidProfile("override device %d %s/0x%02x: unknown field %q", ov.Device, ov.Kind, ov.Code, ov.Field)
		}
		key := overrideKey{device: telemetry.DeviceID(ov.Device), kind: kind, code: ov.Code}
		if _, dup := p.overrides[key]; dup {
			return nil, invalidProfile("override device %d %s/0x%02x: duplicate", ov.Device, ov.Kind, ov.Code)
		}
		p.overrides[key] = field
	}

	seenCodes := make(map[uint8]string, len(doc.Commands))
	for name, code := range doc.Commands {
		if name == "" {
			return nil, invalidProfile("command with empty name")
		}
		if prev, dup := seenCodes[code]; dup {
			return nil, invalidProfile("commands %q and %q share wire code 0x%02x", prev, name, code)
		}
		seenCodes[code] = name
		p.commands[name] = code
	}

	for code, name := range doc.RocketTypes {
		if name == "" {
			return nil, invalidProfile("rocket type %d with empty name", code)
		}
		p.rocketTypes[code] = name
	}

	return p, nil
}

func invalidProfile(format string, args ...any) error {
	detail := fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...)
	return errors.WrapInvalid(detail, "Profile", "NewProfile", "validate document")
}

// Name returns the profile name.
func (p *Profile) Name() string {
	return p.name
}

// Resolve maps a wire field code to its canonical field, preferring a
// device-specific override over the base table.
func (p *Profile) Resolve(kind packet.Kind, device telemetry.DeviceID, code uint8) (telemetry.FieldID, bool) {
	if f, ok := p.overrides[overrideKey{device: device, kind: kind, code: code}]; ok {
		return f, true
	}
	f, ok := p.fields[fieldKey{kind: kind, code: code}]
	return f, ok
}

// CommandCode resolves a command name to its wire code.
func (p *Profile) CommandCode(name string) (uint8, bool) {
	code, ok := p.commands[name]
	return code, ok
}

// Commands lists the command names this profile accepts, sorted.
func (p *Profile) Commands() []string {
	names := make([]string, 0, len(p.commands))
	for name := range p.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RocketTypeName resolves a config packet's rocket type code to its
// human-readable name.
func (p *Profile) RocketTypeName(code uint8) (string, bool) {
	name, ok := p.rocketTypes[code]
	return name, ok
}
