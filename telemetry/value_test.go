package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		val  Value
		kind ValueKind
	}{
		{"numeric", Numeric(42.5), KindNumeric},
		{"bool", Bool(true), KindBool},
		{"text", Text("nominal"), KindText},
		{"zero value is numeric", Value{}, KindNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.val.Kind())
		})
	}
}

func TestValueAccessors(t *testing.T) {
	n := Numeric(-3.25)
	f, ok := n.Numeric()
	require.True(t, ok)
	assert.Equal(t, -3.25, f)

	_, ok = n.Bool()
	assert.False(t, ok, "numeric value must not read as bool")
	_, ok = n.Text()
	assert.False(t, ok, "numeric value must not read as text")

	b := Bool(true)
	v, ok := b.Bool()
	require.True(t, ok)
	assert.True(t, v)

	s := Text("main chute deployed")
	txt, ok := s.Text()
	require.True(t, ok)
	assert.Equal(t, "main chute deployed", txt)
}

func TestValueMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		val  Value
		want string
	}{
		{"numeric", Numeric(11), "11"},
		{"fractional", Numeric(2.5), "2.5"},
		{"bool", Bool(false), "false"},
		{"text", Text("ok"), `"ok"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.val)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestFieldIDString(t *testing.T) {
	assert.Equal(t, "calculated_altitude", FieldCalculatedAltitude.String())
	assert.Equal(t, "latitude", FieldLatitude.String())
	assert.Equal(t, "barometer_health", FieldBarometerHealth.String())
	assert.Equal(t, "field_999", FieldID(999).String())
}

func TestBundleEmpty(t *testing.T) {
	assert.True(t, Bundle{}.Empty())

	b := Bundle{Fields: []Field{{ID: FieldState, Value: Numeric(1)}}}
	assert.False(t, b.Empty())
}

func TestStatusFieldOrder(t *testing.T) {
	// Bit order of the bitmask expansion is the slice order here; the
	// mapping layer and dashboards both rely on it being stable.
	require.Len(t, SensorHealthFields, 5)
	assert.Equal(t, FieldBarometerHealth, SensorHealthFields[0])
	assert.Equal(t, FieldTemperatureSensorHealth, SensorHealthFields[4])

	require.Len(t, OtherStatusFields, 3)
	assert.Equal(t, FieldDrogueContinuity, OtherStatusFields[0])
	assert.Equal(t, FieldFileOpenOK, OtherStatusFields[2])
}
