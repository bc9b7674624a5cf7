// Package chunker splits document text into overlapping chunks for
// embedding. It is a recursive character splitter: it prefers breaking on
// paragraph boundaries, then lines, then sentence punctuation, and only
// falls back to hard character cuts when nothing else fits.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liliang-cn/docqa/pkg/domain"
)

// defaultSeparators is the split cascade, most preferred first. The empty
// string means a hard cut at the size limit.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

type Service struct {
	chunkSize  int
	overlap    int
	separators []string
}

func New(chunkSize, overlap int) *Service {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Service{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

var (
	blankRunRe = regexp.MustCompile(`\n\s*\n+`)
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
)

// preprocess normalizes whitespace before splitting.
func preprocess(text string) string {
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Split chunks text for the given document. Chunk IDs are
// "<documentID>_chunk_<i>" and indices are contiguous from zero.
func (s *Service) Split(text, documentID string, metadata map[string]interface{}) []domain.Chunk {
	text = preprocess(text)
	if text == "" {
		return nil
	}

	pieces := s.splitRecursive(text, s.separators)

	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", documentID, len(chunks)),
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       piece,
			Size:       len([]rune(piece)),
			Metadata:   metadata,
		})
	}
	return chunks
}

// splitRecursive breaks text on the first separator present, recursing into
// any piece still larger than the chunk size with the remaining separators.
func (s *Service) splitRecursive(text string, separators []string) []string {
	if len([]rune(text)) <= s.chunkSize {
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardSplit(text)
	}

	splits := splitKeepingSeparator(text, sep)

	var final []string
	var pending []string
	for _, piece := range splits {
		if len([]rune(piece)) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			final = append(final, s.merge(pending)...)
			pending = nil
		}
		final = append(final, s.splitRecursive(piece, rest)...)
	}
	if len(pending) > 0 {
		final = append(final, s.merge(pending)...)
	}
	return final
}

// merge packs small pieces into chunks up to the size limit, carrying the
// configured overlap from the tail of each emitted chunk into the next.
func (s *Service) merge(pieces []string) []string {
	var out []string
	var window []string
	total := 0

	flush := func() {
		if total == 0 {
			return
		}
		out = append(out, strings.Join(window, ""))
		// Keep the tail of the window as overlap for the next chunk.
		for total > s.overlap && len(window) > 1 {
			total -= len([]rune(window[0]))
			window = window[1:]
		}
		if total > s.overlap {
			window = nil
			total = 0
		}
	}

	for _, piece := range pieces {
		n := len([]rune(piece))
		if total+n > s.chunkSize && total > 0 {
			flush()
		}
		window = append(window, piece)
		total += n
	}
	if total > 0 {
		out = append(out, strings.Join(window, ""))
	}
	return out
}

// hardSplit cuts text into fixed-size rune windows stepped by size-overlap.
func (s *Service) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap
	if step <= 0 {
		step = s.chunkSize
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeepingSeparator splits on sep, leaving sep attached to the piece it
// terminates so no characters are lost across chunk joins.
func splitKeepingSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
