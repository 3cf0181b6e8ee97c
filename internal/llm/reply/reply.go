// Package reply turns raw model replies into validated domain values. A value
// returned without error satisfies the contract it was checked against.
package reply

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/papergen/internal/apperr"
)

// object is a decoded JSON object with numbers kept as json.Number.
type object map[string]any

// decode strips incidental formatting from raw and parses the top-level JSON
// object. When the whole text is not valid JSON it retries on the outermost
// balanced object found in it.
func decode(raw string) (object, error) {
	text := StripFence(raw)

	obj, err := unmarshal(text)
	if err == nil {
		return obj, nil
	}
	if inner := extractObject(text); inner != "" && inner != text {
		if obj, err2 := unmarshal(inner); err2 == nil {
			return obj, nil
		}
	}
	return nil, apperr.Malformed(raw, err)
}

func unmarshal(text string) (object, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("reply is not a JSON object")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return obj, nil
}

// StripFence removes a leading ``` line (with optional language tag) and a
// trailing ``` from s.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			tag := strings.TrimSpace(s[:nl])
			if tag == "" || isWord(tag) {
				s = s[nl+1:]
			}
		} else {
			s = strings.TrimLeftFunc(s, isTagRune)
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isWord(s string) bool {
	for _, r := range s {
		if !isTagRune(r) {
			return false
		}
	}
	return true
}

func isTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

// extractObject returns the first balanced {...} span of s, skipping braces
// inside string literals, or "" if there is none.
func extractObject(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
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
		if inString {
			continue
		}

		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' && depth > 0 {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func (o object) list(field, key string, required bool) ([]any, error) {
	v, ok := o[key]
	if !ok || v == nil {
		if required {
			return nil, apperr.SchemaViolation(field, "missing")
		}
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, apperr.SchemaViolation(field, "must be a list, got %s", typeName(v))
	}
	return l, nil
}

func (o object) str(field, key string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", nil
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	case json.Number:
		return s.String(), nil
	}
	return "", apperr.SchemaViolation(field, "must be a string, got %s", typeName(v))
}

func (o object) strList(field, key string) ([]string, error) {
	l, err := o.list(field, key, false)
	if err != nil || l == nil {
		return nil, err
	}
	out := make([]string, 0, len(l))
	for i, v := range l {
		s, ok := v.(string)
		if !ok {
			return nil, apperr.SchemaViolation(fmt.Sprintf("%s[%d]", field, i), "must be a string, got %s", typeName(v))
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

// integer coerces a JSON number or numeric string to int. Fractional values
// are truncated.
func (o object) integer(field, key string) (int, bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, true, apperr.SchemaViolation(field, "%v", err)
	}
	return int(f), true, nil
}

// number coerces a JSON number or numeric string to float64; nil means the
// field was absent or null.
func (o object) number(field, key string) (*float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, apperr.SchemaViolation(field, "%v", err)
	}
	return &f, nil
}

func toFloat(v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("must be a number, got %s", typeName(v))
	}
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", fmt.Sprint(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", fmt.Sprint(v))
	}
	return f, nil
}

func asObject(field string, v any) (object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, apperr.SchemaViolation(field, "must be an object, got %s", typeName(v))
	}
	return object(m), nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
