package models

import (
	"encoding/json"
	"strings"
)

// DefaultClasses is used when the configuration names no classes.
var DefaultClasses = []string{"object"}

// ParseClasses reads the class labels of a configuration value. Both a JSON
// list (["plane"]) and a comma separated list (plane, ship) are accepted.
func ParseClasses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultClasses
	}

	var classes []string
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &classes); err == nil && len(classes) > 0 {
			return classes
		}
		value = strings.Trim(value, "[]")
	}

	for _, name := range strings.Split(value, ",") {
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if name != "" {
			classes = append(classes, name)
		}
	}
	if len(classes) == 0 {
		return DefaultClasses
	}
	return classes
}
