package kidde

import (
	"reflect"
	"sort"
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// DeviceChange describes one device between two cycles. Fields lists the
// top-level keys whose values differ; it is empty for additions and removals.
type DeviceChange struct {
	ID       int64
	Kind     ChangeKind
	Previous Record
	Current  Record
	Fields   []string
}

// Diff compares two device maps structurally. With a nil previous map every
// current device is reported as added.
func Diff(previous, current IdentityMap) []DeviceChange {
	var changes []DeviceChange
	for _, id := range current.IDs() {
		cur := current[id]
		prev, ok := previous[id]
		if !ok {
			changes = append(changes, DeviceChange{ID: id, Kind: ChangeAdded, Current: cur})
			continue
		}
		if fields := ChangedFields(prev, cur); len(fields) > 0 {
			changes = append(changes, DeviceChange{ID: id, Kind: ChangeUpdated, Previous: prev, Current: cur, Fields: fields})
		}
	}
	for _, id := range previous.IDs() {
		if _, ok := current[id]; !ok {
			changes = append(changes, DeviceChange{ID: id, Kind: ChangeRemoved, Previous: previous[id]})
		}
	}
	return changes
}

// ChangedFields returns the sorted top-level keys whose values differ.
func ChangedFields(previous, current Record) []string {
	var fields []string
	for key, value := range current {
		if old, ok := previous[key]; !ok || !reflect.DeepEqual(old, value) {
			fields = append(fields, key)
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}

// Observers fans one notification out to several observers, in order.
func Observers(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return func(previous, current IdentityMap) {
		for _, o := range list {
			o(previous, current)
		}
	}
}

// ChangeLogger logs device additions, removals, and changed fields.
func ChangeLogger(s *Synchronizer) Observer {
	return func(previous, current IdentityMap) {
		for _, change := range Diff(previous, current) {
			changedDevices.WithLabelValues(string(change.Kind)).Inc()
			event := s.log.Info().Int64("device_id", change.ID).Str("change", string(change.Kind))
			if len(change.Fields) > 0 {
				event = event.Strs("fields", change.Fields)
			}
			event.Msg("device changed")
		}
	}
}
