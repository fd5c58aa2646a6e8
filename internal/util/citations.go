package util

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	reBoldCitation  = regexp.MustCompile(`\*\*\s*(\[\s*\d+(?:\s*[,;]\s*\d+)*\s*\])\s*\*\*`)
	reCitation      = regexp.MustCompile(`\[\s*\d+(?:\s*[,;]\s*\d+)*\s*\]`)
	reCitationSplit = regexp.MustCompile(`\s*[,;]\s*`)
	reSpaceBefore   = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	reDoubleSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// NormalizeCitations rewrites numeric citation markers into the canonical
// "[1]" / "[1, 2]" form. Bold markers are unwrapped, indices inside a group are
// deduplicated, adjacent repeats of the same marker are collapsed and indices
// for which valid returns false are dropped. Markdown links are left alone.
func NormalizeCitations(s string, valid func(int) bool) string {
	s = reBoldCitation.ReplaceAllString(s, "$1")

	matches := reCitation.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor := 0
	last := ""
	lastEnd := -1

	for _, m := range matches {
		start, end := m[0], m[1]
		if end < len(s) && s[end] == '(' {
			continue
		}

		b.WriteString(s[cursor:start])
		cursor = end

		marker := canonicalCitation(s[start:end], valid)
		if marker == "" {
			continue
		}
		if marker == last && onlyWhitespace(s[lastEnd:start]) {
			continue
		}
		b.WriteString(marker)
		last = marker
		lastEnd = end
	}
	b.WriteString(s[cursor:])

	out := reSpaceBefore.ReplaceAllString(b.String(), "$1")
	return reDoubleSpace.ReplaceAllString(out, " ")
}

func canonicalCitation(marker string, valid func(int) bool) string {
	inner := strings.TrimSpace(marker[1 : len(marker)-1])

	var ids []int
	for _, part := range reCitationSplit.Split(inner, -1) {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		if valid != nil && !valid(n) {
			continue
		}
		if slices.Contains(ids, n) {
			continue
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return ""
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ExtractCitations returns the sorted set of citation indices used in s.
func ExtractCitations(s string) []int {
	seen := map[int]struct{}{}
	for _, m := range reCitation.FindAllStringIndex(s, -1) {
		if m[1] < len(s) && s[m[1]] == '(' {
			continue
		}
		inner := strings.TrimSpace(s[m[0]+1 : m[1]-1])
		for _, part := range reCitationSplit.Split(inner, -1) {
			if n, err := strconv.Atoi(part); err == nil {
				seen[n] = struct{}{}
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func onlyWhitespace(s string) bool {
	return strings.TrimSpace(s) == ""
}
