package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// errBlankLine marks a whitespace-only line. Blank lines are normal on
// this link (firmware resets emit them) and are skipped without logging.
var errBlankLine = errors.New("blank line")

type bme280Packet struct {
	TemperatureC    *float64 `json:"temperature_c"`
	HumidityPercent *float64 `json:"humidity_percent"`
	PressureHpa     *float64 `json:"pressure_hpa"`
	PressurePa      *float64 `json:"pressure_pa"`
}

type mq135Packet struct {
	CO2Ppm           *float64 `json:"co2_ppm"`
	NH3Ppm           *float64 `json:"nh3_ppm"`
	AlcoholPpm       *float64 `json:"alcohol_ppm"`
	AirQualityIndex  *int     `json:"air_quality_index"`
	AirQualityStatus *string  `json:"air_quality_status"`
	RawADC           *int     `json:"raw_adc"`
	VoltageV         *float64 `json:"voltage_v"`
	ResistanceOhm    *float64 `json:"resistance_ohm"`
	RatioRsR0        *float64 `json:"ratio_rs_r0"`
}

type sensorPacket struct {
	Timestamp *float64      `json:"timestamp"`
	BME280    *bme280Packet `json:"bme280"`
	MQ135     *mq135Packet  `json:"mq135"`
}

// decodeAndNormalize turns one raw serial line into a Reading. Invalid
// UTF-8 bytes are discarded rather than failing the line. The returned
// Reading carries no timestamp; the read loop stamps it on delivery.
func decodeAndNormalize(line []byte) (Reading, error) {
	text := strings.TrimSpace(strings.ToValidUTF8(string(line), ""))
	if text == "" {
		return Reading{}, errBlankLine
	}
	if text[0] != '{' {
		return Reading{}, fmt.Errorf("not a JSON object: %.40q", text)
	}

	var packet sensorPacket
	if err := json.Unmarshal([]byte(text), &packet); err != nil {
		return Reading{}, fmt.Errorf("failed to parse sensor line: %w", err)
	}

	var reading Reading
	if bme := packet.BME280; bme != nil {
		reading.TemperatureC = bme.TemperatureC
		reading.HumidityPercent = bme.HumidityPercent
		switch {
		case bme.PressureHpa != nil:
			reading.PressureHpa = bme.PressureHpa
		case bme.PressurePa != nil:
			hpa := *bme.PressurePa / 100.0
			reading.PressureHpa = &hpa
		}
	}
	if mq := packet.MQ135; mq != nil {
		reading.Air = AirQuality{
			CO2Ppm:        mq.CO2Ppm,
			NH3Ppm:        mq.NH3Ppm,
			AlcoholPpm:    mq.AlcoholPpm,
			AQI:           mq.AirQualityIndex,
			Status:        mq.AirQualityStatus,
			RawADC:        mq.RawADC,
			VoltageV:      mq.VoltageV,
			ResistanceOhm: mq.ResistanceOhm,
			RatioRsR0:     mq.RatioRsR0,
		}
	}

	return reading, nil
}
