package kidde

import (
	"fmt"
	"math"
	"sort"
)

// Record is one opaque location, device, or event object as decoded from the
// API. Only the numeric id is interpreted by the synchronizer.
type Record map[string]any

// IdentityMap indexes records by id.
type IdentityMap map[int64]Record

// Dataset is the aggregate held by a Synchronizer.
type Dataset struct {
	Locations IdentityMap
	Devices   IdentityMap
	Events    IdentityMap
}

// DuplicateIDError reports a second record carrying an already-seen id.
type DuplicateIDError struct {
	ID int64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id found: %d", e.ID)
}

// MissingIDError reports a record without an integral numeric id.
type MissingIDError struct {
	Index int
}

func (e *MissingIDError) Error() string {
	return fmt.Sprintf("record %d has no numeric id", e.Index)
}

// BuildIdentityMap indexes records by id. It fails on the first duplicate in
// sequence order and never returns a partial map.
func BuildIdentityMap(records []Record) (IdentityMap, error) {
	out := make(IdentityMap, len(records))
	for i, record := range records {
		id, ok := record.ID()
		if !ok {
			return nil, &MissingIDError{Index: i}
		}
		if _, exists := out[id]; exists {
			return nil, &DuplicateIDError{ID: id}
		}
		out[id] = record
	}
	return out, nil
}

// IDs returns the map keys in ascending order.
func (m IdentityMap) IDs() []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Record) ID() (int64, bool) {
	return r.Int("id")
}

// Int reads an integral number. Values outside the int64 range are
// rejected. Records decoded by encoding/json hold numbers as float64, so ids
// above 2^53 have already lost precision by the time they get here.
func (r Record) Int(key string) (int64, bool) {
	value, ok := r.Float(key)
	if !ok || value != math.Trunc(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if value < math.MinInt64 || value >= math.MaxInt64 {
		return 0, false
	}
	return int64(value), true
}

func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r Record) Bool(key string) (bool, bool) {
	v, ok := r[key].(bool)
	return v, ok
}

func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// Nested returns a nested object such as {"Unit":"%RH","value":33.56}.
func (r Record) Nested(key string) (Record, bool) {
	switch v := r[key].(type) {
	case map[string]any:
		return Record(v), true
	case Record:
		return v, true
	default:
		return nil, false
	}
}

// Strings returns the string elements of an array field.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
