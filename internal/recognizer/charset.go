// Package recognizer decodes CTC network output into text and manages the
// recognition model lifecycle.
package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Charset is the ordered character vocabulary; a token's index is its class id.
// The CTC blank is the extra class after the last token.
type Charset struct {
	Tokens       []string
	IndexToToken map[int]string
	TokenToIndex map[string]int
}

// NewCharset builds a charset from tokens; duplicates keep their first index.
func NewCharset(tokens []string) (*Charset, error) {
	if len(tokens) == 0 {
		return nil, errors.New("charset is empty")
	}
	idxTo := make(map[int]string, len(tokens))
	toIdx := make(map[string]int, len(tokens))
	for i, t := range tokens {
		if _, ok := toIdx[t]; !ok {
			toIdx[t] = i
		}
		idxTo[i] = t
	}
	return &Charset{Tokens: tokens, IndexToToken: idxTo, TokenToIndex: toIdx}, nil
}

// CharsetFromString treats every rune of s as one class.
func CharsetFromString(s string) (*Charset, error) {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return NewCharset(tokens)
}

// LoadCharList reads a char list file holding all characters on one line,
// e.g. charList.txt. Line breaks are ignored; every other rune is a class,
// including spaces.
func LoadCharList(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("char list path cannot be empty")
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided vocabulary file
	if err != nil {
		return nil, fmt.Errorf("failed to read char list: %w", err)
	}
	s := strings.TrimPrefix(string(data), "\uFEFF")
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("char list is empty: %s", path)
	}
	return CharsetFromString(s)
}

// LoadCharset loads a dictionary file where each non-empty line is a token.
// Leading/trailing whitespace is trimmed. UTF-8 BOM is removed if present.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-provided vocabulary file
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	tokens := make([]string, 0, 128)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("dictionary is empty: %s", path)
	}
	return NewCharset(tokens)
}

// Size returns the number of tokens, excluding the blank.
func (c *Charset) Size() int { return len(c.Tokens) }

// Classes is the network output width: every token plus the blank.
func (c *Charset) Classes() int { return len(c.Tokens) + 1 }

// Blank is the CTC blank class id.
func (c *Charset) Blank() int { return len(c.Tokens) }

// LookupIndex returns the index of a token, or -1 if not present.
func (c *Charset) LookupIndex(token string) int {
	if c == nil {
		return -1
	}
	if idx, ok := c.TokenToIndex[token]; ok {
		return idx
	}
	return -1
}

// LookupToken returns the token for an index, or empty string if missing.
func (c *Charset) LookupToken(index int) string {
	if c == nil {
		return ""
	}
	return c.IndexToToken[index]
}

// Encode maps text to class ids rune by rune; runes outside the charset are skipped.
func (c *Charset) Encode(text string) []int {
	labels := make([]int, 0, len(text))
	for _, r := range text {
		if idx := c.LookupIndex(string(r)); idx >= 0 {
			labels = append(labels, idx)
		}
	}
	return labels
}

// Decode concatenates the tokens of labels, ignoring blanks and unknown ids.
func (c *Charset) Decode(labels []int) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(c.LookupToken(l))
	}
	return b.String()
}

// String returns the tokens concatenated in class order.
func (c *Charset) String() string {
	return strings.Join(c.Tokens, "")
}
