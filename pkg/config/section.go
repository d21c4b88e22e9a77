package config

import (
	"fmt"
	"strings"
)

// kv is one printed configuration value.
type kv struct {
	key   string
	value any
}

// section renders a titled block of configuration values for startup logs.
func section(title string, values ...kv) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n--- %s ---\n", title)
	for _, v := range values {
		fmt.Fprintf(&b, "  %s: %v\n", v.key, v.value)
	}
	return b.String()
}

// secret masks a non-empty secret value.
func secret(v string) string {
	if v == "" {
		return "<not configured>"
	}
	return "****"
}
