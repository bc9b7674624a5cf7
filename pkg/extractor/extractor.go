// Package extractor turns uploaded documents into cleaned plain text.
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// MaxFileSize is the largest document we will process.
const MaxFileSize = 50 * 1024 * 1024

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".html": true,
	".md":   true,
}

// Service extracts text from documents and writes processed artifacts.
type Service struct {
	processedDir string
}

func New(processedDir string) *Service {
	return &Service{processedDir: processedDir}
}

// IsValidFile reports whether the filename has a supported extension.
func IsValidFile(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SupportedExtensions returns the accepted file extensions.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".html", ".md"}
}

// Notices emitted in place of text when a document has no real content.
// The processed artifact keeps them so the user sees why, but they are
// not indexable text.
var placeholderPrefixes = []string{
	"[Text file is empty]",
	"[Word Document - No readable text content found]",
	"[HTML file contains no readable text]",
	"[PDF Document - ",
}

// HasExtractableText reports whether extracted text carries real content
// rather than emptiness or a no-content placeholder notice.
func HasExtractableText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, prefix := range placeholderPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	return true
}

// Process extracts text from the file at path, saves the cleaned text as
// "<stem>_<ext>.txt" under the processed directory, and returns the text
// with its character count. Extraction failures inside a supported format
// yield empty text rather than an error; only missing files, oversized
// files, and unsupported extensions fail.
func (s *Service) Process(path string) (string, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
		}
		return "", 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return "", 0, fmt.Errorf("%w: %d bytes", domain.ErrFileTooLarge, info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return "", 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, ext)
	}

	text, err := s.extract(path, ext)
	if err != nil {
		log.Warnf("extraction failed for %s: %v", path, err)
		text = ""
	}

	charCount := utf8.RuneCountInString(text)

	if err := s.saveProcessed(path, ext, text); err != nil {
		log.Warnf("failed to save processed artifact for %s: %v", path, err)
	}

	return text, charCount, nil
}

func (s *Service) extract(path, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDOCX(path)
	case ".html":
		return extractHTML(path)
	default:
		// .txt and .md are read as plain text.
		return extractText(path)
	}
}

// ProcessedPath returns where the extracted-text artifact for path lives.
func (s *Service) ProcessedPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(s.processedDir, fmt.Sprintf("%s_%s.txt", stem, strings.TrimPrefix(ext, ".")))
}

func (s *Service) saveProcessed(path, ext, text string) error {
	if err := os.MkdirAll(s.processedDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(s.ProcessedPath(path), []byte(text), 0644)
}

var (
	blankLineRe = regexp.MustCompile(`\n\s*\n+`)
	spaceRunRe  = regexp.MustCompile(`[ \t]+`)
)

// cleanText collapses blank-line and space runs and trims the result.
func cleanText(text string) string {
	text = blankLineRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
