package hls

import "strings"

// parseAttributes decodes an attribute list such as
// `METHOD=AES-128,URI="key.bin"`. Keys are upper-cased and surrounding quotes
// are removed from values.
func parseAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, part := range splitAttributes(raw) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToUpper(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), "\"")
		if key != "" {
			attrs[key] = value
		}
	}
	return attrs
}

// splitAttributes splits on commas that are not inside a quoted string.
func splitAttributes(raw string) []string {
	var parts []string
	var b strings.Builder
	inQuotes := false
	for _, r := range raw {
		switch r {
		case '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case ',':
			if inQuotes {
				b.WriteRune(r)
				continue
			}
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
