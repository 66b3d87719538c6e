package gateway

import (
	"encoding/json"
	"strings"
)

// DecodeJSON parses raw LLM output into v. It first tries the trimmed
// response verbatim, then falls back to extraction heuristics: the first
// balanced brace span (string-aware), then the content of a triple-backtick
// fence. Models occasionally wrap JSON in fences or prefix it with prose, so
// the fallbacks are intentional, not defensive.
func DecodeJSON(raw string, v interface{}) error {
	trimmed := strings.TrimSpace(raw)

	var lastErr error
	for _, candidate := range append([]string{trimmed}, extractCandidates(trimmed)...) {
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return &ParseError{Raw: raw, Err: lastErr}
}

func extractCandidates(raw string) []string {
	var out []string
	if span := braceSpan(raw); span != "" {
		out = append(out, span)
	}
	if fenced := fencedBlock(raw); fenced != "" {
		out = append(out, fenced)
		if span := braceSpan(fenced); span != "" {
			out = append(out, span)
		}
	}
	return out
}

// braceSpan returns the first balanced {...} span in s, tracking string
// literals and escapes so braces inside JSON strings do not miscount.
func braceSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
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
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// fencedBlock returns the content of the first ``` fence, dropping an
// optional language label on the opening line.
func fencedBlock(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return ""
	}
	rest := s[open+3:]

	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		label := strings.TrimSpace(rest[:nl])
		if label == "" || isFenceLabel(label) {
			rest = rest[nl+1:]
		}
	}

	closing := strings.Index(rest, "```")
	if closing < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:closing])
}

func isFenceLabel(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
