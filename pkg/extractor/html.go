package extractor

import (
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractHTML strips script/style elements and returns the visible text.
func extractHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open HTML %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML %s: %w", path, err)
	}

	doc.Find("script, style").Remove()

	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return "[HTML file contains no readable text]", nil
	}

	return cleanText(text), nil
}
