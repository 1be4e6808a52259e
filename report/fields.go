package report

import (
	"regexp"
	"strings"
)

var (
	stemDisallowed = regexp.MustCompile(`[^\w\s-]`)
	stemWhitespace = regexp.MustCompile(`\s+`)
)

// ParseFieldBlock parses a newline-separated block of "Key: Value" pairs.
// Lines without a colon, with an empty key, or with an empty value are
// dropped. Parsing is idempotent: resubmitting the same block with more
// fields filled simply yields a larger map.
func ParseFieldBlock(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, ":") || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// MissingFields returns, in required order, the names absent or empty in
// fields. An empty result means the block is complete.
func MissingFields(fields map[string]string, required []string) []string {
	var missing []string
	for _, name := range required {
		if v, ok := fields[name]; !ok || v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// SanitizeFileStem reduces a free-text photo label to a safe filename stem:
// only word, space, and hyphen characters survive, and whitespace runs
// collapse to a single underscore.
func SanitizeFileStem(label string) string {
	cleaned := stemDisallowed.ReplaceAllString(label, "")
	cleaned = strings.TrimSpace(cleaned)
	return stemWhitespace.ReplaceAllString(cleaned, "_")
}

// FieldTemplate renders the fill-in block sent to the user, pre-filled with
// any values already captured.
func FieldTemplate(required []string, values map[string]string) string {
	var b strings.Builder
	for i, name := range required {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(": ")
		if values != nil {
			b.WriteString(values[name])
		}
	}
	return b.String()
}
