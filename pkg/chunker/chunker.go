// Package chunker splits long documents into bounded segments for
// summarization. Chunks prefer paragraph and sentence boundaries and never
// cut inside a multi-byte character.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/deepresearch/internal/util"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "o200k_base"

var (
	ErrInvalidSize    = errors.New("chunk size must be positive")
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than the chunk size")

	paragraphRe = regexp.MustCompile(`\n[ \t]*\n`)
)

// Chunk is one segment of a document in reading order.
type Chunk struct {
	Index int
	Text  string
}

// Params bounds the chunks. Size and Overlap count characters (runes).
// MaxTokens adds an optional token budget measured with Encoding.
type Params struct {
	Size      int
	Overlap   int
	MaxTokens int
	Encoding  string
}

type segment struct {
	text string
	sep  string
}

// Truncate cuts text to at most maxChars characters. maxChars <= 0 disables the cap.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	return util.TruncateRunes(text, maxChars)
}

// Split cuts text into chunks of at most params.Size characters. Each chunk
// after the first starts with up to params.Overlap characters of the previous one.
func Split(text string, params Params) ([]Chunk, error) {
	if params.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if params.Overlap < 0 || params.Overlap >= params.Size {
		return nil, ErrInvalidOverlap
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil, nil
	}

	var enc *tiktoken.Tiktoken
	if params.MaxTokens > 0 {
		encoding := params.Encoding
		if encoding == "" {
			encoding = DefaultEncoding
		}
		var err error
		enc, err = tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
		}
	}

	fits := func(s string) bool {
		if utf8.RuneCountInString(s) > params.Size {
			return false
		}
		return enc == nil || len(enc.Encode(s, nil, nil)) <= params.MaxTokens
	}

	// room for the overlap prefix and its separator
	budget := max(params.Size-params.Overlap-1, 1)
	segments := splitSegments(text, budget)

	var chunks []Chunk
	var cur []segment
	previous := ""

	join := func(segs []segment) string {
		var b strings.Builder
		for i, s := range segs {
			if i > 0 {
				b.WriteString(s.sep)
			}
			b.WriteString(s.text)
		}
		return b.String()
	}
	flush := func() {
		if len(cur) == 0 {
			return
		}
		previous = strings.TrimSpace(join(cur))
		chunks = append(chunks, Chunk{Index: len(chunks), Text: previous})
		cur = nil
	}
	start := func(seg segment) {
		if tail := overlapTail(previous, params.Overlap); tail != "" {
			candidate := []segment{{text: tail}, seg}
			if fits(join(candidate)) {
				cur = candidate
				return
			}
		}
		cur = []segment{seg}
	}

	for _, seg := range segments {
		if len(cur) == 0 {
			start(seg)
			continue
		}
		if fits(join(append(cur[:len(cur):len(cur)], seg))) {
			cur = append(cur, seg)
			continue
		}
		flush()
		start(seg)
	}
	flush()

	return chunks, nil
}

// splitSegments returns the sentences of all paragraphs with the separator
// that precedes them. Sentences longer than limit are cut further.
func splitSegments(text string, limit int) []segment {
	var out []segment
	for p, paragraph := range paragraphRe.Split(text, -1) {
		for s, sentence := range splitIntoSentences(paragraph) {
			sep := " "
			if s == 0 && p > 0 {
				sep = "\n\n"
			}
			for k, piece := range hardSplit(sentence, limit) {
				if k > 0 {
					sep = " "
				}
				out = append(out, segment{text: piece, sep: sep})
			}
		}
	}
	return out
}

// hardSplit cuts s into pieces of at most limit runes, preferring the last
// whitespace in the second half of each window.
func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var pieces []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			pieces = append(pieces, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

// overlapTail returns the last n characters of s, starting at a word boundary when one exists.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	tail := runes[len(runes)-n:]
	for i, r := range tail {
		if unicode.IsSpace(r) && i < len(tail)-1 {
			return strings.TrimSpace(string(tail[i+1:]))
		}
	}
	return strings.TrimSpace(string(tail))
}
