package campaign

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of raw agent output.
// Agents wrap JSON in markdown fences and produce near-JSON (trailing
// commas, single-quoted keys); this is an explicit, narrow repair step —
// strict schema validation happens after parsing, never instead of it.
func ExtractJSON(response string) (string, error) {
	s := stripFences(response)

	start := strings.Index(s, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response")
	}

	// First balanced {...} span, ignoring braces inside string literals.
	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return "", fmt.Errorf("unbalanced JSON object in response")
	}

	candidate := s[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	repaired := repairJSON(candidate)
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("response JSON unparsable after repair")
	}
	return repaired, nil
}

var fenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	singleQuoteRe   = regexp.MustCompile(`'([^'\\]*)'\s*:`)
)

// repairJSON fixes the two malformations agents actually produce: trailing
// commas before a closing brace/bracket, and single-quoted keys.
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = singleQuoteRe.ReplaceAllString(s, `"$1":`)
	return s
}
