package recognizer

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// trieNode is one prefix of the lexicon. count is the number of corpus
// occurrences of the word ending here.
type trieNode struct {
	children map[int]*trieNode
	labels   []int // sorted keys of children
	count    int
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[int]*trieNode)}
}

func (n *trieNode) child(label int) *trieNode {
	if c, ok := n.children[label]; ok {
		return c
	}
	c := newTrieNode()
	n.children[label] = c
	i, _ := slices.BinarySearch(n.labels, label)
	n.labels = slices.Insert(n.labels, i, label)
	return c
}

// Lexicon is the prefix tree of corpus words used by word beam search.
// Word characters may only spell lexicon words; all other characters of the
// charset are free and end the current word.
type Lexicon struct {
	charset   *Charset
	root      *trieNode
	wordChars map[int]bool
	nonWord   []int
	words     int
}

// NewLexicon indexes every run of word characters in corpus.
func NewLexicon(cs *Charset, corpus, wordChars string) (*Lexicon, error) {
	if cs == nil {
		return nil, errors.New("lexicon needs a charset")
	}
	lx := &Lexicon{charset: cs, root: newTrieNode(), wordChars: make(map[int]bool)}
	for _, r := range wordChars {
		if idx := cs.LookupIndex(string(r)); idx >= 0 {
			lx.wordChars[idx] = true
		}
	}
	if len(lx.wordChars) == 0 {
		return nil, errors.New("no word characters are part of the charset")
	}
	for i := range cs.Size() {
		if !lx.wordChars[i] {
			lx.nonWord = append(lx.nonWord, i)
		}
	}

	var word []int
	flush := func() {
		if len(word) > 0 {
			lx.insert(word)
			word = word[:0]
		}
	}
	for _, r := range corpus {
		idx := cs.LookupIndex(string(r))
		if idx >= 0 && lx.wordChars[idx] {
			word = append(word, idx)
			continue
		}
		flush()
	}
	flush()

	if lx.words == 0 {
		return nil, errors.New("corpus contains no words")
	}
	return lx, nil
}

// LoadLexicon reads corpus.txt and wordCharList.txt.
func LoadLexicon(cs *Charset, corpusPath, wordCharsPath string) (*Lexicon, error) {
	corpus, err := os.ReadFile(corpusPath) //nolint:gosec // G304: user-provided corpus
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	wordChars, err := os.ReadFile(wordCharsPath) //nolint:gosec // G304: user-provided word char list
	if err != nil {
		return nil, fmt.Errorf("failed to read word char list: %w", err)
	}
	return NewLexicon(cs, string(corpus), strings.TrimSpace(string(wordChars)))
}

func (lx *Lexicon) insert(word []int) {
	n := lx.root
	for _, l := range word {
		n = n.child(l)
	}
	if n.count == 0 {
		lx.words++
	}
	n.count++
}

// Words returns the number of distinct words.
func (lx *Lexicon) Words() int { return lx.words }

// IsWordChar reports whether label is constrained by the lexicon.
func (lx *Lexicon) IsWordChar(label int) bool { return lx.wordChars[label] }

// Contains reports whether word is a complete lexicon word.
func (lx *Lexicon) Contains(word string) bool {
	n := lx.root
	for _, r := range word {
		idx := lx.charset.LookupIndex(string(r))
		next, ok := n.children[idx]
		if idx < 0 || !ok {
			return false
		}
		n = next
	}
	return n != lx.root && n.count > 0
}

// complete returns the suffix that turns the prefix at n into its most
// frequent word. Ties go to the first word in label order.
func (lx *Lexicon) complete(n *trieNode) []int {
	var best []int
	bestCount := 0
	var path []int
	var walk func(*trieNode)
	walk = func(cur *trieNode) {
		if cur.count > bestCount {
			bestCount = cur.count
			best = append(best[:0], path...)
		}
		for _, l := range cur.labels {
			path = append(path, l)
			walk(cur.children[l])
			path = path[:len(path)-1]
		}
	}
	walk(n)
	return best
}
