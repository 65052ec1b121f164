package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatScores renders decision scores in candidate order
func formatScores(order []string, scores map[string]float64) string {
	parts := make([]string, 0, len(scores))
	for _, b := range order {
		if s, ok := scores[b]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.3f", b, s))
		}
	}
	return strings.Join(parts, " ")
}

// formatHealthValue flattens nested /health sections onto one line
func formatHealthValue(v interface{}) string {
	nested, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Sprint(v)
	}
	data, err := json.Marshal(nested)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
