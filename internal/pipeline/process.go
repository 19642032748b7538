package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// EmitFunc receives each word result as soon as it is ready.
type EmitFunc func(index, total int, r Result)

// Recognize decodes data and recognizes its words. Malformed bytes yield a
// *utils.DecodeError; per-word failures are reported inside the results.
func (p *Pipeline) Recognize(ctx context.Context, data []byte, mode Mode) ([]Result, Stats, error) {
	return p.RecognizeStream(ctx, data, mode, nil)
}

// RecognizeStream is Recognize with a callback invoked once per word, in order.
func (p *Pipeline) RecognizeStream(ctx context.Context, data []byte, mode Mode, emit EmitFunc) ([]Result, Stats, error) {
	if !mode.Valid() {
		return nil, Stats{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	img, _, err := utils.DecodeGray(data)
	if err != nil {
		return nil, Stats{}, err
	}
	return p.run(ctx, img, mode, emit)
}

// RecognizeImage runs the pipeline on an already decoded image.
func (p *Pipeline) RecognizeImage(ctx context.Context, img image.Image, mode Mode) ([]Result, Stats, error) {
	if !mode.Valid() {
		return nil, Stats{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, Stats{}, &utils.DecodeError{Err: errors.New("empty image")}
	}
	return p.run(ctx, utils.ToGray(img), mode, nil)
}

func (p *Pipeline) run(ctx context.Context, img *image.Gray, mode Mode, emit EmitFunc) ([]Result, Stats, error) {
	start := time.Now()
	var words []*image.Gray
	if mode == ModeMerged {
		words = []*image.Gray{img}
	} else {
		for _, w := range p.segmenter.Segment(img) {
			words = append(words, w.Image)
		}
	}
	stats := Stats{Images: 1, Words: len(words), Segment: time.Since(start)}

	results := make([]Result, 0, len(words))
	recStart := time.Now()
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			stats.Recognize = time.Since(recStart)
			stats.Total = time.Since(start)
			return results, stats, err
		}
		r := p.recognizeWord(ctx, w)
		if r.Failed() {
			stats.Errors++
			p.logger.Warn("word recognition failed", "word", i, "error", r.Error)
		}
		results = append(results, r)
		if emit != nil {
			emit(i, len(words), r)
		}
	}
	stats.Recognize = time.Since(recStart)
	stats.Total = time.Since(start)

	p.logger.Debug("recognized image",
		"mode", string(mode),
		"words", stats.Words,
		"errors", stats.Errors,
		"elapsed", stats.Total.Round(time.Millisecond),
	)
	return results, stats, nil
}

// recognizeWord never fails: errors and panics end up in Result.Error.
func (p *Pipeline) recognizeWord(ctx context.Context, img *image.Gray) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res.Label = ""
			res.Error = fmt.Sprintf("recognition panicked: %v", r)
		}
	}()

	encoded, err := utils.EncodeBase64PNG(img)
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to encode word image: %v", err)}
	}
	res.Image = encoded

	text, err := p.recognizer.RecognizeWord(ctx, img)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Label = recognizer.CleanText(text, p.cfg.Clean)
	return res
}

// Merge joins the labels of successful words with a single space, in order.
func Merge(results []Result) string {
	labels := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Failed() {
			labels = append(labels, r.Label)
		}
	}
	return recognizer.MergeLabels(labels)
}
