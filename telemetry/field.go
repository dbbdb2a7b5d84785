// Package telemetry defines the core value types shared across the
// pipeline: field identifiers, tagged-union field values, bundles and
// time-series entries. The package has no behavior beyond construction,
// accessors and JSON marshaling; everything stateful lives in the store.
package telemetry

import "strconv"

// FieldID is a stable identifier naming one semantic sensor or state
// field. The canonical set is defined here; device profiles translate
// wire field codes onto it. IDs are never reused.
type FieldID uint16

// DeviceID identifies the remote device a packet originated from, as
// carried in the frame header.
type DeviceID uint8

// Canonical fields. The first eleven match the bulk-sensor slot order.
const (
	FieldMissionTime FieldID = iota + 1
	FieldCalculatedAltitude
	FieldAccelerationX
	FieldAccelerationY
	FieldAccelerationZ
	FieldOrientation1
	FieldOrientation2
	FieldOrientation3
	FieldLatitude
	FieldLongitude
	FieldState

	FieldPressure
	FieldBarometerTemperature
	FieldTemperature
	FieldGPSAltitude
	FieldGroundAltitude

	FieldMessage
	FieldIsSimulation
	FieldRocketType
	FieldOverallStatus
)

// Sensor-health fields, one per covered bit of the status-ping sensor
// bitmask, in bit order (bit 0 is the most significant bit of the first
// sensor byte).
const (
	FieldBarometerHealth FieldID = iota + 64
	FieldGPSHealth
	FieldAccelerometerHealth
	FieldIMUHealth
	FieldTemperatureSensorHealth
)

// Other-status fields, one per covered bit of the status-ping
// other-status bitmask, in bit order.
const (
	FieldDrogueContinuity FieldID = iota + 96
	FieldMainContinuity
	FieldFileOpenOK
)

// SensorHealthFields lists the sensor-health fields in bitmask bit
// order. The slice is shared; callers must not mutate it.
var SensorHealthFields = []FieldID{
	FieldBarometerHealth,
	FieldGPSHealth,
	FieldAccelerometerHealth,
	FieldIMUHealth,
	FieldTemperatureSensorHealth,
}

// OtherStatusFields lists the other-status fields in bitmask bit order.
var OtherStatusFields = []FieldID{
	FieldDrogueContinuity,
	FieldMainContinuity,
	FieldFileOpenOK,
}

var fieldNames = map[FieldID]string{
	FieldMissionTime:             "mission_time",
	FieldCalculatedAltitude:      "calculated_altitude",
	FieldAccelerationX:           "acceleration_x",
	FieldAccelerationY:           "acceleration_y",
	FieldAccelerationZ:           "acceleration_z",
	FieldOrientation1:            "orientation_1",
	FieldOrientation2:            "orientation_2",
	FieldOrientation3:            "orientation_3",
	FieldLatitude:                "latitude",
	FieldLongitude:               "longitude",
	FieldState:                   "state",
	FieldPressure:                "pressure",
	FieldBarometerTemperature:    "barometer_temperature",
	FieldTemperature:             "temperature",
	FieldGPSAltitude:             "gps_altitude",
	FieldGroundAltitude:          "ground_altitude",
	FieldMessage:                 "message",
	FieldIsSimulation:            "is_simulation",
	FieldRocketType:              "rocket_type",
	FieldOverallStatus:           "overall_status",
	FieldBarometerHealth:         "barometer_health",
	FieldGPSHealth:               "gps_health",
	FieldAccelerometerHealth:     "accelerometer_health",
	FieldIMUHealth:               "imu_health",
	FieldTemperatureSensorHealth: "temperature_sensor_health",
	FieldDrogueContinuity:        "drogue_continuity",
	FieldMainContinuity:          "main_continuity",
	FieldFileOpenOK:              "file_open_ok",
}

var fieldsByName = func() map[string]FieldID {
	m := make(map[string]FieldID, len(fieldNames))
	for id, name := range fieldNames {
		m[name] = id
	}
	return m
}()

// String returns the canonical snake_case name of the field, or
// "field_<n>" for IDs outside the canonical set (profile extensions).
func (f FieldID) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "field_" + strconv.Itoa(int(f))
}

// FieldByName resolves a canonical field name back to its FieldID. Profile
// documents reference fields by these names.
func FieldByName(name string) (FieldID, bool) {
	id, ok := fieldsByName[name]
	return id, ok
}
