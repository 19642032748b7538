package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
)

// imageJob is one image queued for recognition.
type imageJob struct {
	index int
	image image.Image
}

// RecognizeImages recognizes many images with a worker pool. Results come
// back in input order; a failing image is reported in its ImageResult.Error
// and does not stop the others. Only cancellation returns an error.
func (p *Pipeline) RecognizeImages(ctx context.Context, images []image.Image, mode Mode) ([]ImageResult, Stats, error) {
	if len(images) == 0 {
		return nil, Stats{}, errors.New("no images provided")
	}
	if !mode.Valid() {
		return nil, Stats{}, ErrUnknownMode
	}

	workers := min(p.workers(), len(images))

	p.progress.OnStart(len(images))
	defer p.progress.OnComplete()

	jobs := make(chan imageJob, len(images))
	done := make(chan ImageResult, len(images))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, mode, jobs, done, &wg)
	}

	go func() {
		defer close(jobs)
		for i, img := range images {
			select {
			case jobs <- imageJob{index: i, image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	out := make([]ImageResult, len(images))
	for i := range out {
		out[i].Index = i
	}
	var total Stats
	processed := 0
	for r := range done {
		out[r.Index] = r
		total = total.Add(r.Stats)
		processed++
		if r.Error != "" {
			p.progress.OnError(r.Index, errors.New(r.Error))
		}
		p.progress.OnProgress(processed, len(images))
	}

	if err := ctx.Err(); err != nil {
		return out, total, err
	}
	return out, total, nil
}

func (p *Pipeline) worker(ctx context.Context, mode Mode, jobs <-chan imageJob, done chan<- ImageResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if ctx.Err() != nil {
			return
		}
		res := ImageResult{Index: job.index}
		results, stats, err := p.RecognizeImage(ctx, job.image, mode)
		res.Results = results
		res.Stats = stats
		res.Text = Merge(results)
		if err != nil {
			res.Error = err.Error()
		}
		done <- res
	}
}
