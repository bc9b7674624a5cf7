package extractor

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// extractText reads plain-text and markdown files. Non-UTF-8 content is
// reinterpreted as Latin-1 rather than rejected.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	content := string(data)
	if !utf8.ValidString(content) {
		content = decodeLatin1(data)
	}

	if strings.TrimSpace(content) == "" {
		return "[Text file is empty]", nil
	}

	return cleanText(content), nil
}

func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
