package kidde

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AirQuality follows the accessory air-quality scale.
type AirQuality int

const (
	AirQualityUnknown AirQuality = iota
	AirQualityExcellent
	AirQualityGood
	AirQualityFair
	AirQualityInferior
	AirQualityPoor
)

func (q AirQuality) String() string {
	switch q {
	case AirQualityExcellent:
		return "excellent"
	case AirQualityGood:
		return "good"
	case AirQualityFair:
		return "fair"
	case AirQualityInferior:
		return "inferior"
	case AirQualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// vocDivisor converts the reported tvoc ppb into the accessory VOC density.
const vocDivisor = 4.57

// accessoryNamespace seeds stable accessory UUIDs.
var accessoryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://api.homesafe.kidde.com/accessory"))

// Readings is a device record projected onto accessory characteristics.
type Readings struct {
	DeviceID   int64  `json:"device_id"`
	LocationID int64  `json:"location_id"`
	Key        string `json:"key"`
	UUID       string `json:"uuid"`
	Label      string `json:"label,omitempty"`
	Model      string `json:"model,omitempty"`
	Serial     string `json:"serial,omitempty"`

	HasSmoke       bool `json:"has_smoke"`
	HasCO          bool `json:"has_co"`
	HasIAQ         bool `json:"has_iaq"`
	HasTemperature bool `json:"has_temperature"`

	SmokeDetected bool       `json:"smoke_detected"`
	CODetected    bool       `json:"co_detected"`
	LowBattery    bool       `json:"low_battery"`
	Offline       bool       `json:"offline"`
	AirQuality    AirQuality `json:"air_quality"`
	AirStatus     string     `json:"air_status,omitempty"`

	VOCDensity         *float64 `json:"voc_density,omitempty"`
	TVOC               *float64 `json:"tvoc_ppb,omitempty"`
	CO2                *float64 `json:"co2_ppm,omitempty"`
	IAQ                *float64 `json:"iaq,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TemperatureUnit    string   `json:"temperature_unit,omitempty"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	SmokeLevel         *float64 `json:"smoke_level,omitempty"`
	COLevel            *float64 `json:"co_level,omitempty"`
	APRSSI             *float64 `json:"ap_rssi,omitempty"`

	LastSeen time.Time `json:"last_seen,omitzero"`
}

// AccessoryKey is the stable per-device key "kidde-<location>-<device>".
func AccessoryKey(locationID, deviceID int64) string {
	return fmt.Sprintf("kidde-%d-%d", locationID, deviceID)
}

// ReadingsFromRecord projects a device record. Missing fields stay at their
// zero value or nil.
func ReadingsFromRecord(r Record) Readings {
	deviceID, _ := r.ID()
	locationID, _ := r.Int("location_id")
	key := AccessoryKey(locationID, deviceID)

	out := Readings{
		DeviceID:   deviceID,
		LocationID: locationID,
		Key:        key,
		UUID:       uuid.NewSHA1(accessoryNamespace, []byte(key)).String(),
	}
	out.Label, _ = r.String("label")
	out.Model, _ = r.String("model")
	out.Serial, _ = r.String("serial_number")

	sensors := r.Strings("cap_sensor")
	out.HasSmoke = slices.Contains(sensors, "Smoke")
	out.HasCO = slices.Contains(sensors, "CO")
	out.HasIAQ = slices.Contains(sensors, "IAQ")
	out.HasTemperature = slices.Contains(r.Strings("capabilities"), "temperature")

	out.SmokeDetected, _ = r.Bool("smoke_alarm")
	out.CODetected, _ = r.Bool("co_alarm")
	out.Offline, _ = r.Bool("offline")
	if state, ok := r.String("battery_state"); ok {
		out.LowBattery = state != "ok"
	}

	if iaq, ok := r.Nested("iaq"); ok {
		out.AirStatus, _ = iaq.String("status")
		out.AirQuality = ConvertAirQuality(out.AirStatus)
		out.IAQ = floatPtr(iaq, "value")
	}
	if tvoc, ok := r.Nested("tvoc"); ok {
		out.TVOC = floatPtr(tvoc, "value")
		if out.TVOC != nil {
			voc := *out.TVOC / vocDivisor
			out.VOCDensity = &voc
		}
	}
	if co2, ok := r.Nested("co2"); ok {
		out.CO2 = floatPtr(co2, "value")
	}
	if temp, ok := r.Nested("iaq_temperature"); ok {
		out.Temperature = floatPtr(temp, "value")
		out.TemperatureUnit, _ = temp.String("Unit")
		if out.Temperature != nil {
			celsius := toCelsius(*out.Temperature, out.TemperatureUnit)
			out.TemperatureCelsius = &celsius
		}
	}
	if humidity, ok := r.Nested("humidity"); ok {
		out.Humidity = floatPtr(humidity, "value")
	}
	out.SmokeLevel = floatPtr(r, "smoke_level")
	out.COLevel = floatPtr(r, "co_level")
	out.APRSSI = floatPtr(r, "ap_rssi")

	if seen, ok := r.String("last_seen"); ok {
		if ts, err := time.Parse(time.RFC3339Nano, seen); err == nil {
			out.LastSeen = ts
		}
	}
	return out
}

// ConvertAirQuality maps the API iaq status onto the accessory scale.
func ConvertAirQuality(status string) AirQuality {
	switch status {
	case "Excellent":
		return AirQualityExcellent
	case "Good":
		return AirQualityGood
	case "Moderate":
		return AirQualityFair
	case "Bad":
		return AirQualityInferior
	case "Very Bad":
		return AirQualityPoor
	default:
		return AirQualityUnknown
	}
}

func toCelsius(value float64, unit string) float64 {
	if strings.EqualFold(strings.TrimSpace(unit), "F") {
		return math.Round((value-32)*5/9*100) / 100
	}
	return value
}

func floatPtr(r Record, key string) *float64 {
	v, ok := r.Float(key)
	if !ok {
		return nil
	}
	return &v
}
