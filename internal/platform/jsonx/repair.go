package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeStrict unmarshals into out without any repair pass.
func DecodeStrict(raw string, out interface{}) error {
	return json.Unmarshal([]byte(raw), out)
}

// DecodeLenient tries a strict parse first and falls back to a repair pass:
// strip code fences, drop any preamble before the first brace/bracket, drop
// trailing prose after the last one, remove trailing commas, and balance an
// unterminated string. The repaired text is parsed once; there is no third
// attempt.
func DecodeLenient(raw string, out interface{}) error {
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	repaired := Repair(raw)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode after repair: %w", err)
	}
	return nil
}

// Repair applies the recovery transformations without parsing.
func Repair(raw string) string {
	s := stripFences(raw)
	s = clipToJSONBody(s)
	s = closeUnbalancedQuote(s)
	s = removeTrailingCommas(s)
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	start := strings.Index(s, "```")
	rest := s[start+3:]
	// Skip a language tag like "json" on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}[]\"") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func clipToJSONBody(s string) string {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start := objStart
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
	}
	if start < 0 {
		return s
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	end := strings.LastIndexByte(s, close)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

func closeUnbalancedQuote(s string) string {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		}
	}
	if inString {
		return s + `"`
	}
	return s
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if inString {
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
