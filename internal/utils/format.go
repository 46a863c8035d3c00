package utils

import "strings"

// FormatStake renders a raw stake amount with thousand separators.
// Stake values arrive as decimal strings and stay strings end to end,
// so grouping is done on the digits rather than through a float.
func FormatStake(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "0"
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return raw
		}
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if fracPart != "" {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}
