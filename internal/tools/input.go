package tools

import (
	"fmt"
	"math"
	"strconv"
)

// Input is a tool's string-keyed payload as decoded from JSON.
type Input map[string]any

// String returns a required non-empty string field.
func (in Input) String(key string) (string, error) {
	v, ok := in[key]
	if !ok {
		return "", fmt.Errorf("missing required input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("input %q must not be empty", key)
	}
	return s, nil
}

// OptString returns a string field or "" when absent.
func (in Input) OptString(key string) string {
	s, _ := in[key].(string)
	return s
}

// RawString returns a required string field that may be empty.
func (in Input) RawString(key string) (string, error) {
	v, ok := in[key]
	if !ok {
		return "", fmt.Errorf("missing required input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string", key)
	}
	return s, nil
}

// Int returns a required integer field. JSON numbers arrive as float64.
func (in Input) Int(key string) (int, error) {
	v, ok := in[key]
	if !ok {
		return 0, fmt.Errorf("missing required input %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("input %q must be an integer", key)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("input %q must be an integer", key)
		}
		return i, nil
	}
	return 0, fmt.Errorf("input %q must be an integer", key)
}

// OptInt returns an integer field or def when absent.
func (in Input) OptInt(key string, def int) (int, error) {
	if _, ok := in[key]; !ok {
		return def, nil
	}
	return in.Int(key)
}

// Bool returns a boolean field, false when absent.
func (in Input) Bool(key string) bool {
	b, _ := in[key].(bool)
	return b
}

// Strings returns a string list field. Absent fields yield nil.
func (in Input) Strings(key string) ([]string, error) {
	v, ok := in[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("input %q must be a list of strings", key)
}

// Target returns the path or query the call acts on, for logs and transcripts.
func (in Input) Target() string {
	for _, k := range []string{"path", "query", "pattern", "dir", "domain"} {
		if s := in.OptString(k); s != "" {
			return s
		}
	}
	return ""
}
