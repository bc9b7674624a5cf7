package extractor

import (
	"fmt"
	"strings"

	pdf "github.com/dslipak/pdf"

	"github.com/liliang-cn/docqa/pkg/log"
)

// extractPDF extracts page text with per-page markers. Pages that fail or
// contain no text are skipped; a PDF with no extractable text at all gets
// a placeholder instead of an error.
func extractPDF(path string) (string, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %s: %w", path, err)
	}

	if r.NumPage() == 0 {
		return "", fmt.Errorf("PDF file appears to be empty or corrupted: %s", path)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			log.Warnf("could not extract text from page %d of %s: %v", i, path, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		buf.WriteString(fmt.Sprintf("--- Page %d ---\n", i))
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}

	if strings.TrimSpace(buf.String()) == "" {
		return fmt.Sprintf("[PDF Document - %d pages]\nNote: This appears to be an image-based PDF. Install OCR libraries (pytesseract, pdf2image) for text extraction.", r.NumPage()), nil
	}

	return cleanText(buf.String()), nil
}
