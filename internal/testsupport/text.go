package testsupport

import "strings"

var loremWords = []string{
	"the", "tide", "carried", "a", "green", "bottle", "past", "rocks",
	"where", "gulls", "circled", "slowly", "over", "grey", "water",
}

// Words returns deterministic prose with exactly n whitespace-separated words.
func Words(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = loremWords[i%len(loremWords)]
	}
	return strings.Join(parts, " ")
}
