package ingest

// AirQuality holds the MQ135 gas sensor fields of a reading. All fields
// are optional; the firmware omits values it could not sample.
type AirQuality struct {
	CO2Ppm        *float64 `json:"co2_ppm,omitempty"`
	NH3Ppm        *float64 `json:"nh3_ppm,omitempty"`
	AlcoholPpm    *float64 `json:"alcohol_ppm,omitempty"`
	AQI           *int     `json:"aqi,omitempty"`
	Status        *string  `json:"status,omitempty"`
	RawADC        *int     `json:"raw_adc,omitempty"`
	VoltageV      *float64 `json:"voltage_v,omitempty"`
	ResistanceOhm *float64 `json:"resistance_ohm,omitempty"`
	RatioRsR0     *float64 `json:"ratio_rs_r0,omitempty"`
}

// Reading is one normalized sensor sample. Timestamp is host wall-clock
// time in Unix milliseconds, stamped when the line was read; the device's
// own monotonic timestamp is not forwarded.
type Reading struct {
	Timestamp       int64      `json:"timestamp"`
	TemperatureC    *float64   `json:"temperature_c,omitempty"`
	HumidityPercent *float64   `json:"humidity_percent,omitempty"`
	PressureHpa     *float64   `json:"pressure_hpa,omitempty"`
	Air             AirQuality `json:"air"`
}
