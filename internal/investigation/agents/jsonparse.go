package agents

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// extractObject pulls the JSON object out of a model reply. Replies may be
// wrapped in a markdown code fence or surrounded by prose; the object is
// taken from the first '{' to the last '}'.
func extractObject(reply string) (string, bool) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// decodeObject extracts and decodes a JSON object, reporting false for
// anything that is not one.
func decodeObject(reply string) (map[string]any, bool) {
	raw, ok := extractObject(reply)
	if !ok {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false
	}
	return m, true
}

// stringList coerces a decoded JSON value to a list of strings. Non-string
// elements are rendered with fmt.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch t := it.(type) {
		case string:
			out = append(out, t)
		case nil:
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}

// number coerces a decoded JSON number or numeric string. NaN and infinities
// are rejected since they cannot be re-encoded as JSON.
func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(t), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
