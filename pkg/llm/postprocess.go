package llm

import (
	"strings"
	"unicode"
)

// postProcessAnswer cleans raw completions from small local models: prompt
// echo, a dangling final sentence, close-range word repetition, and a
// lowercase opening letter.
func postProcessAnswer(text, prompt string) string {
	if text == "" {
		return text
	}

	if prompt != "" && strings.Contains(strings.ToLower(text), strings.ToLower(prompt)) {
		text = strings.TrimSpace(strings.Replace(text, prompt, "", 1))
	}

	text = dropDanglingSentence(strings.TrimSpace(text))
	text = collapseRepeatedWords(text)
	text = capitalizeFirst(strings.TrimSpace(text))
	return text
}

// dropDanglingSentence removes a trailing fragment that looks cut off:
// short, or not starting with a capital, and not ending in terminal
// punctuation.
func dropDanglingSentence(text string) string {
	sentences := strings.Split(text, ".")
	if len(sentences) < 2 {
		return text
	}

	last := strings.TrimSpace(sentences[len(sentences)-1])
	if last == "" || strings.HasSuffix(last, "!") || strings.HasSuffix(last, "?") {
		return text
	}

	runes := []rune(last)
	if len(runes) < 10 || !unicode.IsUpper(runes[0]) {
		return strings.Join(sentences[:len(sentences)-1], ".") + "."
	}
	return text
}

// collapseRepeatedWords drops a word once it has already appeared twice
// within the preceding five-word window.
func collapseRepeatedWords(text string) string {
	words := strings.Fields(text)
	if len(words) <= 5 {
		return text
	}

	counts := make(map[string]int)
	cleaned := make([]string, 0, len(words))
	for i, word := range words {
		if i > 5 {
			oldest := words[i-6]
			counts[oldest]--
			if counts[oldest] <= 0 {
				delete(counts, oldest)
			}
		}
		counts[word]++
		if counts[word] > 2 {
			continue
		}
		cleaned = append(cleaned, word)
	}
	return strings.Join(cleaned, " ")
}

func capitalizeFirst(text string) string {
	runes := []rune(text)
	if len(runes) < 2 {
		return text
	}
	if unicode.IsLower(runes[0]) {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}
