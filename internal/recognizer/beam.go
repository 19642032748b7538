package recognizer

import (
	"encoding/binary"
	"sort"
)

// beam is one prefix hypothesis. pb and pnb are the probabilities of the
// prefix ending in a blank and in its last label respectively.
type beam struct {
	labels []int
	pb     float64
	pnb    float64
	order  int
	// node is the lexicon position of the word being spelled; nil outside a word.
	node *trieNode
}

func (b *beam) total() float64 { return b.pb + b.pnb }

func (b *beam) last() int {
	if len(b.labels) == 0 {
		return -1
	}
	return b.labels[len(b.labels)-1]
}

// labelKey encodes labels as a map key.
func labelKey(labels []int) string {
	buf := make([]byte, 0, 4*len(labels))
	for _, l := range labels {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(l)) //nolint:gosec // class ids are small
	}
	return string(buf)
}

// beamSet holds the hypotheses of one time step. Beams that collapse to the
// same labels share one entry; order records first insertion.
type beamSet struct {
	beams []*beam
	index map[string]int
}

func newBeamSet() *beamSet {
	return &beamSet{index: make(map[string]int)}
}

func (s *beamSet) get(labels []int, node *trieNode) *beam {
	key := labelKey(labels)
	if i, ok := s.index[key]; ok {
		return s.beams[i]
	}
	b := &beam{labels: labels, order: len(s.beams), node: node}
	s.index[key] = len(s.beams)
	s.beams = append(s.beams, b)
	return b
}

// sorted returns beams by descending probability; equal probabilities keep
// insertion order.
func (s *beamSet) sorted() []*beam {
	out := append([]*beam(nil), s.beams...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].total() > out[j].total() })
	return out
}

func (s *beamSet) best(k int) []*beam {
	out := s.sorted()
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// expander decides which labels may extend a beam and the lexicon state
// after the extension.
type expander interface {
	candidates(b *beam) []int
	advance(b *beam, label int) *trieNode
}

// prefixBeamSearch runs CTC prefix beam search over mat and returns the final
// hypotheses, best first.
func prefixBeamSearch(mat Matrix, blank, width int, ex expander) []*beam {
	cur := newBeamSet()
	cur.get(nil, nil).pb = 1

	for _, row := range mat {
		next := newBeamSet()
		for _, b := range cur.best(width) {
			// Same prefix: repeat the last label or emit a blank.
			var pnb float64
			if last := b.last(); last >= 0 && last < len(row) {
				pnb = b.pnb * float64(row[last])
			}
			var pb float64
			if blank < len(row) {
				pb = b.total() * float64(row[blank])
			}
			kept := next.get(b.labels, b.node)
			kept.pnb += pnb
			kept.pb += pb

			for _, c := range ex.candidates(b) {
				if c >= len(row) || row[c] == 0 {
					continue
				}
				p := float64(row[c])
				labels := make([]int, len(b.labels)+1)
				copy(labels, b.labels)
				labels[len(b.labels)] = c

				ext := next.get(labels, ex.advance(b, c))
				if c == b.last() {
					// A repeated label needs a blank in between.
					ext.pnb += p * b.pb
				} else {
					ext.pnb += p * b.total()
				}
			}
		}
		cur = next
	}
	return cur.sorted()
}

type beamDecoder struct {
	charset *Charset
	width   int
	all     []int
}

func (d *beamDecoder) Type() DecoderType { return BeamSearch }

func newBeamDecoder(cs *Charset, width int) *beamDecoder {
	all := make([]int, cs.Size())
	for i := range all {
		all[i] = i
	}
	return &beamDecoder{charset: cs, width: width, all: all}
}

func (d *beamDecoder) candidates(*beam) []int { return d.all }

func (d *beamDecoder) advance(*beam, int) *trieNode { return nil }

// Decode returns the most probable label sequence found by beam search.
func (d *beamDecoder) Decode(mat Matrix) Decoded {
	beams := prefixBeamSearch(mat, d.charset.Blank(), d.width, d)
	if len(beams) == 0 {
		return Decoded{}
	}
	top := beams[0]
	return Decoded{Labels: top.labels, Text: d.charset.Decode(top.labels), Score: top.total()}
}
