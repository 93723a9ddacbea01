package hipaa

import "strings"

// RedactedMarker replaces PHI values in persisted audit detail.
const RedactedMarker = "[REDACTED]"

func normalizeDetailKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "")
}

// IsPHIDetailKey reports whether an audit detail key carries PHI.
func IsPHIDetailKey(key string) bool {
	_, ok := phiDetailKeys[normalizeDetailKey(key)]
	return ok
}

// SanitizeDetail walks an audit detail payload and replaces every value
// whose key is a known PHI identifier with the redaction marker. Nested
// maps and slices are walked recursively; everything else passes through.
// The input is not modified.
func SanitizeDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for key, value := range detail {
		if IsPHIDetailKey(key) {
			out[key] = RedactedMarker
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return SanitizeDetail(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
