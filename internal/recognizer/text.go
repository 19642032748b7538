package recognizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ArabicPunctuation is the punctuation kept by default: question mark, comma, full stop.
const ArabicPunctuation = "؟،."

// CleanOptions controls text post-processing behavior.
type CleanOptions struct {
	NormalizeForm   string // "NFC" (default), "NFKC", "NFD", "NFKD", "none"
	RemoveZeroWidth bool
	// FilterSymbols drops every rune that is not a letter, digit, underscore,
	// whitespace or listed in Allowed.
	FilterSymbols bool
	Allowed       string
	ReplaceMap    map[string]string
}

// DefaultCleanOptions keeps letters, digits and Arabic punctuation.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		NormalizeForm:   "NFC",
		RemoveZeroWidth: true,
		FilterSymbols:   true,
		Allowed:         ArabicPunctuation,
	}
}

// CleanText normalizes recognizer output: Unicode normalization, optional
// replacements, symbol filtering, then whitespace is trimmed and collapsed.
func CleanText(s string, opts CleanOptions) string {
	if s == "" {
		return s
	}
	s = applyNormalization(s, opts.NormalizeForm)
	if opts.RemoveZeroWidth {
		s = removeZeroWidth(s)
	}
	if len(opts.ReplaceMap) > 0 {
		s = applyReplaceMap(s, opts.ReplaceMap)
	}
	if opts.FilterSymbols {
		s = filterSymbols(s, opts.Allowed)
	} else {
		s = removeControlChars(s)
	}
	return strings.TrimSpace(collapseWhitespace(s))
}

func applyNormalization(s, form string) string {
	switch strings.ToUpper(form) {
	case "NFC", "":
		return norm.NFC.String(s)
	case "NFKC":
		return norm.NFKC.String(s)
	case "NFD":
		return norm.NFD.String(s)
	case "NFKD":
		return norm.NFKD.String(s)
	}
	return s
}

func applyReplaceMap(s string, replaceMap map[string]string) string {
	// Replace longer keys first to avoid partial overlaps
	keys := make([]string, 0, len(replaceMap))
	for k := range replaceMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		s = strings.ReplaceAll(s, k, replaceMap[k])
	}
	return s
}

func filterSymbols(s, allowed string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsSpace(r), r == '_':
			b.WriteRune(r)
		case unicode.Is(unicode.Mn, r):
			// Combining marks (harakat) belong to the preceding letter.
			b.WriteRune(r)
		case strings.ContainsRune(allowed, r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func removeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var wsRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string { return wsRe.ReplaceAllString(s, " ") }

// removeZeroWidth removes common zero-width characters used in OCR noise.
func removeZeroWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MergeLabels joins non-empty labels with a single space.
func MergeLabels(labels []string) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}
