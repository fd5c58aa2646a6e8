package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

func endsSentence(s string) bool {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || r == '}' || unicode.IsSpace(r)
	})
	if s == "" {
		return false
	}
	r := []rune(s)
	return isTerminator(r[len(r)-1])
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '」', '』', '）':
		return true
	}
	return false
}

// splitIntoSentences splits one paragraph into sentences. Lines of a
// sentence are joined with spaces, markdown tables stay one unit.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	addLine := func(line string) {
		for _, sentence := range splitLineIntoSentences(line) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if endsSentence(sentence) {
				flush()
			}
		}
	}

	inTable := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inTable && isTableRow(line) && i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])) {
			flush()
			inTable = true
			current.WriteString(line)
			continue
		}

		if !inTable && isTableRow(line) {
			flush()
			sentences = append(sentences, trimmed)
			continue
		}

		if inTable {
			if trimmed == "" || !isTableRow(line) {
				inTable = false
				flush()
				if trimmed != "" {
					addLine(trimmed)
				}
			} else {
				current.WriteString("\n")
				current.WriteString(line)
			}
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		addLine(trimmed)
	}
	flush()

	return sentences
}

// splitLineIntoSentences cuts a line after sentence terminators. A period
// after a digit followed by a space ("1. item") is a listing, not an end.
func splitLineIntoSentences(line string) []string {
	runes := []rune(line)
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		if runes[i] == '.' && i > 0 && unicode.IsDigit(runes[i-1]) && i+1 < len(runes) && runes[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(runes) && isTerminator(runes[j]) {
			current.WriteRune(runes[j])
			j++
		}
		for j < len(runes) && isCloser(runes[j]) {
			current.WriteRune(runes[j])
			j++
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}
