package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	docxParaRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>|<w:p/>`)
	docxRowRe  = regexp.MustCompile(`(?s)<w:tr[ >].*?</w:tr>`)
	docxCellRe = regexp.MustCompile(`(?s)<w:tc[ >].*?</w:tc>`)
	docxTextRe = regexp.MustCompile(`(?s)<w:t[^>]*>(.*?)</w:t>`)
	docxTagRe  = regexp.MustCompile(`<[^>]+>`)
)

// extractDOCX extracts paragraph text followed by table rows, cells joined
// with " | ", matching how word processors lay the document out.
func extractDOCX(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX %s: %w", path, err)
	}
	defer func() { _ = doc.Close() }()

	content := doc.Editable().GetContent()

	var parts []string

	// Table rows are nested inside paragraphs in the raw XML; take the
	// table content out first so paragraphs don't double-report it.
	tables := docxRowRe.FindAllString(content, -1)
	body := docxRowRe.ReplaceAllString(content, "")

	for _, para := range docxParaRe.FindAllString(body, -1) {
		if text := docxRunText(para); text != "" {
			parts = append(parts, text)
		}
	}

	for _, row := range tables {
		var cells []string
		for _, cell := range docxCellRe.FindAllString(row, -1) {
			if text := docxRunText(cell); text != "" {
				cells = append(cells, text)
			}
		}
		if len(cells) > 0 {
			parts = append(parts, strings.Join(cells, " | "))
		}
	}

	if len(parts) == 0 {
		return "[Word Document - No readable text content found]", nil
	}

	return cleanText(strings.Join(parts, "\n")), nil
}

// docxRunText joins the text runs of one XML fragment.
func docxRunText(fragment string) string {
	var buf strings.Builder
	for _, m := range docxTextRe.FindAllStringSubmatch(fragment, -1) {
		buf.WriteString(docxTagRe.ReplaceAllString(m[1], ""))
	}
	return strings.TrimSpace(buf.String())
}
