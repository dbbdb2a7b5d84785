package mapping

// Default returns the builtin profile covering the standard vehicle
// families. Wire codes follow the historical radio command and sensor
// byte assignments.
func Default() *Profile {
	p, err := NewProfile(Document{
		Name: "default",
		Fields: []FieldMapping{
			{Kind: "single_sensor", Code: 0x10, Field: "acceleration_x"},
			{Kind: "single_sensor", Code: 0x11, Field: "acceleration_y"},
			{Kind: "single_sensor", Code: 0x12, Field: "acceleration_z"},
			{Kind: "single_sensor", Code: 0x13, Field: "pressure"},
			{Kind: "single_sensor", Code: 0x14, Field: "barometer_temperature"},
			{Kind: "single_sensor", Code: 0x15, Field: "temperature"},
			{Kind: "single_sensor", Code: 0x19, Field: "latitude"},
			{Kind: "single_sensor", Code: 0x1A, Field: "longitude"},
			{Kind: "single_sensor", Code: 0x1B, Field: "gps_altitude"},
			{Kind: "single_sensor", Code: 0x1C, Field: "calculated_altitude"},
			{Kind: "single_sensor", Code: 0x1D, Field: "state"},
			{Kind: "single_sensor", Code: 0x1F, Field: "ground_altitude"},
			{Kind: "single_sensor", Code: 0x20, Field: "mission_time"},
		},
		Commands: map[string]uint8{
			"arm":      0x41,
			"disarm":   0x44,
			"status":   0x53,
			"config":   0x43,
			"data":     0x64,
			"halo":     0x48,
			"gpsalt":   0x67,
			"baropres": 0x62,
			"barotemp": 0x74,
			"temp":     0x54,
		},
		RocketTypes: map[uint8]string{
			1: "tantalus_stage_1",
			2: "copilot",
			3: "hollyburn",
			4: "silvertip",
		},
	})
	if err != nil {
		// The builtin document is static; a validation failure here is a
		// programming bug.
		panic(err)
	}
	return p
}
