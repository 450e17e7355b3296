package llm

import "strings"

// ExtractJSON pulls the outermost JSON object out of a model response,
// dropping markdown code fences and any prose around it. Returns ""
// when the response holds no object at all.
func ExtractJSON(output string) string {
	cleaned := strings.TrimSpace(output)
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if end := strings.LastIndex(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(cleaned[start : end+1])
}
