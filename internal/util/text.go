package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQueryLength is the hard cap for search queries sent to a search provider.
const MaxQueryLength = 100

var (
	reQueryLabel   = regexp.MustCompile(`(?i)^(please\s+)?(search(\s+for)?|(next\s+|search\s+|web\s+)?query|q)\s*:\s*`)
	reListMarker   = regexp.MustCompile(`^(\d+[.)]|[-+•])\s+`)
	reEmphasis     = regexp.MustCompile("(\\*+|`+|~~)")
	reUnderscore   = regexp.MustCompile(`(^|\s)_+|_+($|\s)`)
	reLinkMarkdown = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reSpaces       = regexp.MustCompile(`\s+`)
)

// SanitizeQuery turns raw model output into a search query: markdown emphasis
// is removed, only the first non-empty line is kept and the result is cut to
// MaxQueryLength characters on a word boundary.
func SanitizeQuery(raw string) string {
	return SanitizeQueryN(raw, MaxQueryLength)
}

// SanitizeQueryN is SanitizeQuery with a custom length cap.
func SanitizeQueryN(raw string, maxLen int) string {
	line := firstNonEmptyLine(raw)

	line = reLinkMarkdown.ReplaceAllString(line, "$1")
	line = reEmphasis.ReplaceAllString(line, "")
	line = reUnderscore.ReplaceAllString(line, "$1$2")
	line = strings.TrimLeft(line, "#> \t")
	line = reListMarker.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)

	for {
		stripped := reQueryLabel.ReplaceAllString(line, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == line {
			break
		}
		line = stripped
	}

	line = strings.Trim(line, "\"'“”‘’ ")
	line = reSpaces.ReplaceAllString(line, " ")

	return TruncateWords(line, maxLen)
}

func firstNonEmptyLine(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Trim(line, "*_`#>-= ") == "" {
			continue
		}
		return line
	}
	return ""
}

// TruncateWords cuts s to at most maxLen characters, preferring the last word
// boundary inside the limit. Words longer than the limit are cut hard.
func TruncateWords(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	runes := []rune(s)
	cut := runes[:maxLen]
	if !unicode.IsSpace(runes[maxLen]) {
		for i := len(cut) - 1; i > 0; i-- {
			if unicode.IsSpace(cut[i]) {
				cut = cut[:i]
				break
			}
		}
	}

	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
}

// TruncateRunes cuts s to at most maxLen characters without splitting a UTF-8 sequence.
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	count := 0
	for i := range s {
		if count == maxLen {
			return s[:i]
		}
		count++
	}
	return s
}

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
