package capture

import "strings"

// Trim fits s into maxHeight lines of at most maxWidth bytes each, marking
// cut lines and a cut tail with "[...]".
func Trim(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	var res strings.Builder
	lines := strings.Split(s, "\n")
	cut := len(lines) > maxHeight
	if cut {
		lines = lines[:maxHeight]
	}
	for i, line := range lines {
		if i > 0 {
			res.WriteString("\n")
		}
		if len(line) > maxWidth {
			res.WriteString(line[:maxWidth])
			res.WriteString("[...]")
		} else {
			res.WriteString(line)
		}
	}
	if cut {
		res.WriteString("\n[...]")
	}
	return res.String()
}
