// Package logschema centralizes the required fields of structured log
// events, so dashboards and alerts can rely on their shape.
package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema names a log event and the keys every emission must carry.
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"composite": {
		Event:    "composite",
		Required: []string{"score", "recommendation"},
	},
	"whale_delta": {
		Event:    "whale_delta",
		Required: []string{"account", "kind"},
	},
	"funding_anomaly": {
		Event:    "funding_anomaly",
		Required: []string{"rate"},
	},
	"vault_extreme": {
		Event:    "vault_extreme",
		Required: []string{"exposure"},
	},
	"connected": {
		Event:    "connected",
		Required: []string{"url"},
	},
}

// Known returns all event names, for generating documentation.
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks that fields carries every key the event's schema
// requires. Unknown events pass.
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
