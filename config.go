package fusion

import "strings"

// parseConfigString implements a recommended, non-normative parser for a
// node's free-form configuration string: "Key1=Value1 Key2=Value2 ...".
// The framework itself treats the configuration string opaquely — this is
// purely a convenience available to node implementations via
// Node.ConfigValue; a node is free to parse its own configuration string
// however it chooses.
func parseConfigString(s string) map[string]string {
	out := map[string]string{}
	for _, field := range strings.Fields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
