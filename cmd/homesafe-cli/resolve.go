package main

import (
	"fmt"
	"sort"
	"strings"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveNamedID matches input against option labels, or accepts one of the
// ids verbatim.
func resolveNamedID[ID comparable](kind, input string, options map[string]ID, format func(ID) string) (ID, error) {
	needle := normalizeName(input)
	found := make(map[ID]bool)
	var match ID
	for label, id := range options {
		if normalizeName(label) == needle || format(id) == strings.TrimSpace(input) {
			found[id] = true
			match = id
		}
	}
	if len(found) == 1 {
		return match, nil
	}
	if len(found) > 1 {
		var zero ID
		return zero, fmt.Errorf("%s %q is ambiguous", kind, input)
	}

	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	var zero ID
	return zero, fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
