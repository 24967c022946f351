package kidde

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func decodeRecord(t *testing.T, body string) Record {
	t.Helper()
	var r Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return r
}

func TestBuildIdentityMap(t *testing.T) {
	records := []Record{{"id": float64(3), "label": "c"}, {"id": float64(1)}, {"id": float64(2)}}
	m, err := BuildIdentityMap(records)
	if err != nil {
		t.Fatalf("BuildIdentityMap: %v", err)
	}
	if len(m) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(m))
	}
	if label, _ := m[3].String("label"); label != "c" {
		t.Fatalf("expected record stored under its id")
	}
	ids := m.IDs()
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
}

func TestBuildIdentityMapEmpty(t *testing.T) {
	m, err := BuildIdentityMap(nil)
	if err != nil {
		t.Fatalf("BuildIdentityMap: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Fatalf("expected empty non-nil map, got %v", m)
	}
}

func TestBuildIdentityMapDuplicate(t *testing.T) {
	records := []Record{{"id": float64(7)}, {"id": float64(8)}, {"id": float64(7)}, {"id": float64(8)}}
	m, err := BuildIdentityMap(records)
	var dup *DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	if dup.ID != 7 {
		t.Fatalf("expected first duplicate in order to be reported, got %d", dup.ID)
	}
	if dup.Error() != "duplicate id found: 7" {
		t.Fatalf("unexpected message %q", dup.Error())
	}
	if m != nil {
		t.Fatalf("expected no partial map")
	}
}

func TestBuildIdentityMapMissingID(t *testing.T) {
	cases := map[string]Record{
		"absent":       {"label": "x"},
		"string":       {"id": "7"},
		"fractional":   {"id": 7.5},
		"above int64":  {"id": 1e19},
		"below int64":  {"id": -1e19},
		"exactly 2^63": {"id": math.Ldexp(1, 63)},
		"infinite":     {"id": math.Inf(1)},
		"not a number": {"id": math.NaN()},
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildIdentityMap([]Record{{"id": float64(1)}, record})
			var missing *MissingIDError
			if !errors.As(err, &missing) || missing.Index != 1 {
				t.Fatalf("expected missing id at index 1, got %v", err)
			}
		})
	}
}

func TestRecordAccessors(t *testing.T) {
	r := decodeRecord(t, testDeviceJSON)

	if id, ok := r.ID(); !ok || id != 779836 {
		t.Fatalf("unexpected id %d %v", id, ok)
	}
	if rssi, ok := r.Int("ap_rssi"); !ok || rssi != -50 {
		t.Fatalf("unexpected ap_rssi %d", rssi)
	}
	humidity, ok := r.Nested("humidity")
	if !ok {
		t.Fatalf("expected nested humidity")
	}
	if unit, _ := humidity.String("Unit"); unit != "%RH" {
		t.Fatalf("unexpected unit %q", unit)
	}
	if got := r.Strings("cap_sensor"); len(got) != 3 || got[1] != "IAQ" {
		t.Fatalf("unexpected cap_sensor %v", got)
	}
	if n, ok := (Record{"n": -math.Ldexp(1, 63)}).Int("n"); !ok || n != math.MinInt64 {
		t.Fatalf("expected int64 minimum accepted, got %d %v", n, ok)
	}
	if _, ok := r.Bool("label"); ok {
		t.Fatalf("expected type mismatch to report not ok")
	}
}
