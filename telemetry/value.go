package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates the payload of a Value.
type ValueKind int

const (
	// KindNumeric is a float64 payload.
	KindNumeric ValueKind = iota
	// KindBool is a boolean payload.
	KindBool
	// KindText is a UTF-8 string payload.
	KindText
)

// String returns the string representation of ValueKind.
func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a tagged union over {numeric, boolean, text}, the payload
// associated with one FieldID at one point in time. The zero Value is
// numeric 0.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
	text string
}

// Numeric returns a numeric Value.
func Numeric(v float64) Value {
	return Value{kind: KindNumeric, num: v}
}

// Bool returns a boolean Value.
func Bool(v bool) Value {
	return Value{kind: KindBool, b: v}
}

// Text returns a text Value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Kind returns the payload discriminator.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Numeric returns the numeric payload. ok is false when the Value holds
// a different kind.
func (v Value) Numeric() (float64, bool) {
	return v.num, v.kind == KindNumeric
}

// Bool returns the boolean payload. ok is false when the Value holds a
// different kind.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Text returns the text payload. ok is false when the Value holds a
// different kind.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindText
}

// String formats the payload for logs and labels.
func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.text
	default:
		return fmt.Sprintf("value(kind=%d)", v.kind)
	}
}

// MarshalJSON emits the bare payload (number, bool or string), which is
// what the relay envelope and snapshot files carry.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindText:
		return json.Marshal(v.text)
	default:
		return nil, fmt.Errorf("telemetry: cannot marshal value kind %d", v.kind)
	}
}

// UnmarshalJSON restores a value from its bare payload.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		*v = Numeric(x)
	case bool:
		*v = Bool(x)
	case string:
		*v = Text(x)
	default:
		return fmt.Errorf("telemetry: cannot unmarshal %T into value", raw)
	}
	return nil
}
