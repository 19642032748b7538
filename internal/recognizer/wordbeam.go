package recognizer

type wordBeamDecoder struct {
	charset *Charset
	width   int
	lexicon *Lexicon
	// outside lists the labels allowed when no word is being spelled.
	outside []int
}

func newWordBeamDecoder(cs *Charset, width int, lx *Lexicon) *wordBeamDecoder {
	outside := append([]int(nil), lx.nonWord...)
	outside = append(outside, lx.root.labels...)
	return &wordBeamDecoder{charset: cs, width: width, lexicon: lx, outside: outside}
}

func (d *wordBeamDecoder) Type() DecoderType { return WordBeamSearch }

// candidates lets a word continue along the lexicon. Leaving a word through
// a non-word character is only possible once the prefix is a complete word.
func (d *wordBeamDecoder) candidates(b *beam) []int {
	if b.node == nil {
		return d.outside
	}
	if b.node.count == 0 {
		return b.node.labels
	}
	out := make([]int, 0, len(b.node.labels)+len(d.lexicon.nonWord))
	out = append(out, b.node.labels...)
	return append(out, d.lexicon.nonWord...)
}

func (d *wordBeamDecoder) advance(b *beam, label int) *trieNode {
	if !d.lexicon.IsWordChar(label) {
		return nil
	}
	if b.node == nil {
		return d.lexicon.root.children[label]
	}
	return b.node.children[label]
}

// Decode returns the best hypothesis that does not end inside a partial word.
// If every hypothesis does, the best one is completed with the most frequent
// lexicon word sharing its prefix.
func (d *wordBeamDecoder) Decode(mat Matrix) Decoded {
	beams := prefixBeamSearch(mat, d.charset.Blank(), d.width, d)
	for _, b := range beams {
		if b.total() > 0 && (b.node == nil || b.node.count > 0) {
			return Decoded{Labels: b.labels, Text: d.charset.Decode(b.labels), Score: b.total()}
		}
	}
	if len(beams) == 0 {
		return Decoded{}
	}
	top := beams[0]
	labels := append([]int(nil), top.labels...)
	if top.node != nil {
		labels = append(labels, d.lexicon.complete(top.node)...)
	}
	return Decoded{Labels: labels, Text: d.charset.Decode(labels), Score: top.total()}
}
