package memory

import "strings"

const (
	chunkSize    = 900
	chunkOverlap = 140
)

// chunkText splits long memory text into overlapping windows, breaking at
// the last whitespace before the boundary when one exists. Short texts
// come back as a single chunk.
func chunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		cut := strings.LastIndexAny(text[start:end], " \t\n")
		if cut <= 0 {
			cut = chunkSize
		}
		chunks = append(chunks, strings.TrimSpace(text[start:start+cut]))
		next := start + cut - chunkOverlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}
