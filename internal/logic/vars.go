package logic

import "strings"

// goalVariables lexically extracts the named variables of a goal in first
// occurrence order, skipping quoted atoms, strings, back-quotes, 0'c
// character literals and % line comments. The anonymous variable _ is
// excluded; underscore-prefixed names are kept.
func goalVariables(goal string) []string {
	var (
		names []string
		seen  = map[string]bool{}
		runes = []rune(goal)
	)
	isStart := func(c rune) bool {
		return c == '_' || (c >= 'A' && c <= 'Z')
	}
	isPart := func(c rune) bool {
		return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	skipQuoted := func(i int, quote rune) int {
		i++ // opening quote
		for i < len(runes) {
			switch runes[i] {
			case '\\':
				i += 2
				continue
			case quote:
				// Doubled quotes escape the quote itself.
				if i+1 < len(runes) && runes[i+1] == quote {
					i += 2
					continue
				}
				return i + 1
			}
			i++
		}
		return i
	}

	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case c == '%':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(i, c)
		case c == '0' && i+2 < len(runes) && runes[i+1] == '\'':
			i += 3 // 0'c character literal
		case isStart(c):
			start := i
			for i < len(runes) && isPart(runes[i]) {
				i++
			}
			name := string(runes[start:i])
			if name != "_" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		case isPart(c):
			// Inside a lowercase identifier or number; consume it whole so
			// fooBar does not yield Bar.
			for i < len(runes) && isPart(runes[i]) {
				i++
			}
		default:
			i++
		}
	}
	return names
}

// normalizeGoal trims whitespace and a single trailing period.
func normalizeGoal(goal string) string {
	g := strings.TrimSpace(goal)
	g = strings.TrimSuffix(g, ".")
	return strings.TrimSpace(g)
}
