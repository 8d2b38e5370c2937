// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonBlockRegex extracts the body of a fenced block, with or without a json tag.
	jsonBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(.*?)\\s*\x60\x60\x60")
)

// ExtractJSONObject finds the JSON object inside a model response. Fenced
// blocks win; otherwise the text between the first '{' and the last '}' is
// used. It returns false when no object delimiters are present.
func ExtractJSONObject(response string) (string, bool) {
	text := strings.TrimSpace(response)
	if m := jsonBlockRegex.FindStringSubmatch(text); len(m) > 1 && strings.Contains(m[1], "{") {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks
// or surrounding it with conversational text.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, ok := ExtractJSONObject(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in LLM response (truncated): %s", truncateString(response, 200))
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Provide a detailed error message including the extracted JSON snippet.
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

// Ratio returns the normalized indel similarity of two strings in [0,1]:
// 2*LCS / (len(a)+len(b)), computed over runes. Two empty strings are
// identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Single-row LCS table.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return float64(2*prev[len(rb)]) / float64(total)
}

// Score is Ratio scaled to an integer percentage.
func Score(a, b string) int {
	return int(Ratio(a, b)*100 + 0.5)
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
