// Package jsonutil extracts and decodes JSON from model responses, which
// may arrive wrapped in markdown fences, surrounded by prose or cut short.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const previewLen = 200

// StripMarkdownFences removes a ```json ... ``` (or bare ```) wrapper,
// including the single-line form. Text without an opening fence is
// returned trimmed.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	body := text[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(strings.TrimSpace(body[:nl])) {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// ExtractJSON returns the first complete JSON object or array in text.
// Brackets inside string literals are ignored, so trailing prose that
// happens to contain braces does not confuse it. A value that never
// closes is reported as truncated.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON content found")
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("JSON is truncated (%d unclosed brackets)", depth)
}

// ParseJSON strips fences, extracts the JSON value and unmarshals it into
// T. When T is a list but the model wrapped the list in an object with a
// single field (e.g. {"options": [...]}), the list is unwrapped.
func ParseJSON[T any](raw string) (T, error) {
	var result T
	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return result, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	data := []byte(jsonStr)
	err = json.Unmarshal(data, &result)
	if err == nil {
		return result, nil
	}
	if inner, ok := singleArrayField(data); ok {
		var unwrapped T
		if json.Unmarshal(inner, &unwrapped) == nil {
			return unwrapped, nil
		}
	}
	return result, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(jsonStr))
}

// singleArrayField returns the value of an object's only field when that
// value is an array.
func singleArrayField(data []byte) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) != nil || len(obj) != 1 {
		return nil, false
	}
	for _, v := range obj {
		if v = bytes.TrimSpace(v); len(v) > 0 && v[0] == '[' {
			return v, true
		}
	}
	return nil, false
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
