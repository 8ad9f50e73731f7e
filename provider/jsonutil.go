package provider

import (
	"regexp"
	"strings"
)

var (
	// fencedJSONPattern matches ```json fenced blocks (non-greedy, all of them).
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object containing the given key out of an LLM
// response. Preference order: the last ```json fenced block whose body
// contains the key, then the last balanced top-level object containing the
// key found by walking brace depth. Returns "" when nothing matches.
func ExtractJSON(content, key string) string {
	needle := `"` + key + `"`

	matches := fencedJSONPattern.FindAllStringSubmatch(content, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if strings.Contains(matches[i][1], needle) {
			return cleanJSON(matches[i][1])
		}
	}

	if raw := lastBalancedObject(content, needle); raw != "" {
		return cleanJSON(raw)
	}
	return ""
}

// lastBalancedObject scans for top-level {...} spans by brace depth, skipping
// braces inside string literals, and returns the last span containing needle.
func lastBalancedObject(content, needle string) string {
	var (
		best     string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case ch == '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if candidate := content[start : i+1]; strings.Contains(candidate, needle) {
					best = candidate
				}
				start = -1
			}
		}
	}

	return best
}

// cleanJSON strips JavaScript-style line comments and trailing commas, both
// common LLM artifacts.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(cleaned, "\n"), "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting string
// values so URLs like "http://example.com" survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
