package kidde

import (
	"math"
	"testing"
	"time"
)

func TestReadingsFromRecord(t *testing.T) {
	r := ReadingsFromRecord(decodeRecord(t, testDeviceJSON))

	if r.Key != "kidde-123456-779836" {
		t.Fatalf("unexpected key %q", r.Key)
	}
	if r.UUID == "" || r.UUID != ReadingsFromRecord(decodeRecord(t, testDeviceJSON)).UUID {
		t.Fatalf("expected stable uuid, got %q", r.UUID)
	}
	if r.Label != "Kitchen" || r.Model != "wifiiaqdetector" || r.Serial != "CE3550A039" {
		t.Fatalf("unexpected identity %+v", r)
	}
	if !r.HasSmoke || !r.HasCO || !r.HasIAQ || !r.HasTemperature {
		t.Fatalf("unexpected capabilities %+v", r)
	}
	if r.SmokeDetected || r.CODetected || r.LowBattery || r.Offline {
		t.Fatalf("unexpected alarm state %+v", r)
	}
	if r.AirQuality != AirQualityInferior || r.AirQuality.String() != "inferior" {
		t.Fatalf("expected Bad to map to inferior (4), got %d", r.AirQuality)
	}
	if r.VOCDensity == nil || math.Abs(*r.VOCDensity-2772.55/4.57) > 1e-9 {
		t.Fatalf("unexpected voc density %v", r.VOCDensity)
	}
	if r.Temperature == nil || *r.Temperature != 70 || r.TemperatureUnit != "F" {
		t.Fatalf("unexpected temperature %v %q", r.Temperature, r.TemperatureUnit)
	}
	if r.TemperatureCelsius == nil || *r.TemperatureCelsius != 21.11 {
		t.Fatalf("unexpected celsius %v", r.TemperatureCelsius)
	}
	if r.Humidity == nil || *r.Humidity != 33.56 {
		t.Fatalf("unexpected humidity %v", r.Humidity)
	}
	if r.CO2 == nil || *r.CO2 != 2880.24 {
		t.Fatalf("unexpected co2 %v", r.CO2)
	}
	if r.COLevel == nil || *r.COLevel != 1 {
		t.Fatalf("unexpected co level %v", r.COLevel)
	}
	want := time.Date(2025, 3, 25, 16, 1, 56, 683414469, time.UTC)
	if !r.LastSeen.Equal(want) {
		t.Fatalf("unexpected last seen %s", r.LastSeen)
	}
}

func TestReadingsFromSparseRecord(t *testing.T) {
	r := ReadingsFromRecord(Record{"id": float64(5), "location_id": float64(9), "battery_state": "low"})
	if r.Key != "kidde-9-5" {
		t.Fatalf("unexpected key %q", r.Key)
	}
	if !r.LowBattery {
		t.Fatalf("expected low battery")
	}
	if r.AirQuality != AirQualityUnknown || r.Temperature != nil || r.VOCDensity != nil {
		t.Fatalf("expected missing sensors to stay empty: %+v", r)
	}
}

func TestConvertAirQuality(t *testing.T) {
	cases := map[string]AirQuality{
		"Excellent": 1,
		"Good":      2,
		"Moderate":  3,
		"Bad":       4,
		"Very Bad":  5,
		"":          0,
		"bad":       0,
	}
	for status, want := range cases {
		if got := ConvertAirQuality(status); got != want {
			t.Fatalf("ConvertAirQuality(%q) = %d, want %d", status, got, want)
		}
	}
}
