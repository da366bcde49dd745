package sqlgen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Quote wraps a value in single quotes, doubling any embedded quote.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// literal renders a setting value: numbers and booleans stay bare,
// everything else is quoted.
func literal(value string) string {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return value
	}

	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}

	switch strings.ToLower(value) {
	case "true", "false":
		return value
	}

	return Quote(value)
}

// sortedKeys returns the map's keys in sorted order.
func sortedKeys(options map[string]string) []string {
	keys := make([]string, 0, len(options))

	for key := range options {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Set builds a SET statement.
func Set(name, value string) string {
	return fmt.Sprintf("SET %s = %s", name, literal(value))
}

// CreateSecret builds a CREATE SECRET statement. The TYPE clause comes
// first, then the options sorted by key.
func CreateSecret(name, typ string, options map[string]string) string {
	parts := make([]string, 0, len(options)+1)
	parts = append(parts, "TYPE "+typ)

	for _, key := range sortedKeys(options) {
		parts = append(parts, key+" "+Quote(options[key]))
	}

	return fmt.Sprintf("CREATE SECRET %s (%s)", name, strings.Join(parts, ", "))
}

// DropSecret builds a DROP SECRET statement.
func DropSecret(name string) string {
	return "DROP SECRET " + name
}

// Attach builds an ATTACH statement. An empty name lets the worker derive
// the alias from the path.
func Attach(path, name string, readOnly bool, options map[string]string) string {
	var b strings.Builder

	b.WriteString("ATTACH ")
	b.WriteString(Quote(path))

	if name != "" {
		b.WriteString(" AS ")
		b.WriteString(name)
	}

	parts := make([]string, 0, len(options)+1)

	if readOnly {
		parts = append(parts, "READ_ONLY")
	}

	for _, key := range sortedKeys(options) {
		parts = append(parts, key+" "+Quote(options[key]))
	}

	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}

	return b.String()
}

// Detach builds a DETACH statement.
func Detach(name string) string {
	return "DETACH " + name
}

// Install builds an INSTALL statement for a worker extension.
func Install(extension string) string {
	return "INSTALL " + extension
}

// Load builds a LOAD statement for a worker extension.
func Load(extension string) string {
	return "LOAD " + extension
}
