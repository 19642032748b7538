package recognizer

import (
	"errors"
	"fmt"
	"strings"
)

// DecoderType selects the CTC decoding policy.
type DecoderType int

const (
	BestPath DecoderType = iota
	BeamSearch
	WordBeamSearch
)

// DefaultBeamWidth is the number of hypotheses kept per step.
const DefaultBeamWidth = 50

func (t DecoderType) String() string {
	switch t {
	case BestPath:
		return "bestpath"
	case BeamSearch:
		return "beamsearch"
	case WordBeamSearch:
		return "wordbeamsearch"
	default:
		return fmt.Sprintf("DecoderType(%d)", int(t))
	}
}

// ParseDecoderType accepts the String forms plus a few common spellings.
func ParseDecoderType(s string) (DecoderType, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)) {
	case "", "bestpath", "greedy":
		return BestPath, nil
	case "beamsearch", "beam":
		return BeamSearch, nil
	case "wordbeamsearch", "wordbeam", "wbs":
		return WordBeamSearch, nil
	default:
		return BestPath, fmt.Errorf("unknown decoder type: %q", s)
	}
}

// Decoded is the result of decoding one matrix.
type Decoded struct {
	Labels []int
	Text   string
	// Score is the decoder's own estimate of the sequence probability.
	Score float64
	// CharProbs is filled by best path decoding only.
	CharProbs []float64
}

// Decoder turns a probability matrix into a label sequence.
type Decoder interface {
	Decode(mat Matrix) Decoded
	Type() DecoderType
}

// DecoderOptions configures NewDecoder.
type DecoderOptions struct {
	Type      DecoderType
	Charset   *Charset
	BeamWidth int
	// Lexicon is required for WordBeamSearch.
	Lexicon *Lexicon
}

// NewDecoder builds the decoder selected by opts.Type.
func NewDecoder(opts DecoderOptions) (Decoder, error) {
	if opts.Charset == nil || opts.Charset.Size() == 0 {
		return nil, errors.New("decoder needs a non-empty charset")
	}
	width := opts.BeamWidth
	if width <= 0 {
		width = DefaultBeamWidth
	}

	switch opts.Type {
	case BestPath:
		return &bestPathDecoder{charset: opts.Charset}, nil
	case BeamSearch:
		return newBeamDecoder(opts.Charset, width), nil
	case WordBeamSearch:
		if opts.Lexicon == nil {
			return nil, errors.New("word beam search needs a lexicon")
		}
		return newWordBeamDecoder(opts.Charset, width, opts.Lexicon), nil
	default:
		return nil, fmt.Errorf("unsupported decoder type: %v", opts.Type)
	}
}
