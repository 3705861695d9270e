// Package masking redacts processor references before they reach the audit
// trail.
package masking

import "strings"

const (
	maskToken  = "****"
	keepSuffix = 4
)

// Reference masks a processor reference such as "pi_3NxY...Abcd", keeping
// the object prefix and the last four characters.
func Reference(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	prefix, body := value, ""
	if i := strings.LastIndex(value, "_"); i >= 0 && i < len(value)-1 {
		prefix, body = value[:i+1], value[i+1:]
	} else {
		prefix, body = "", value
	}
	if len(body) <= keepSuffix {
		return prefix + maskToken
	}
	return prefix + maskToken + body[len(body)-keepSuffix:]
}

// Values returns a copy of input with every string masked, recursing into
// nested maps and slices. Empty keys are dropped.
func Values(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = maskValue(value)
	}
	return out
}

func maskValue(value any) any {
	switch v := value.(type) {
	case string:
		return Reference(v)
	case map[string]any:
		return Values(v)
	case []any:
		masked := make([]any, len(v))
		for i, item := range v {
			masked[i] = maskValue(item)
		}
		return masked
	default:
		return value
	}
}
