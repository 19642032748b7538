package onnx

import (
	"errors"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Elements returns the number of values implied by the shape.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Validate checks that the shape is positive and matches the data length.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return errors.New("tensor has no shape")
	}
	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
	}
	if n := t.Elements(); n != len(t.Data) {
		return fmt.Errorf("shape %v needs %d values, have %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// NewBatchTensor stacks word images into [B, W, H]. Every item holds W rows
// of H values, the transposed layout produced by the normalizer.
func NewBatchTensor(items [][]float32, w, h int) (Tensor, error) {
	if len(items) == 0 {
		return Tensor{}, errors.New("empty batch")
	}
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("invalid item size %dx%d", w, h)
	}
	per := w * h
	out := make([]float32, per*len(items))
	for i, d := range items {
		if len(d) != per {
			return Tensor{}, fmt.Errorf("item %d has length %d, want %d", i, len(d), per)
		}
		copy(out[i*per:(i+1)*per], d)
	}
	return Tensor{Data: out, Shape: []int64{int64(len(items)), int64(w), int64(h)}}, nil
}

// TensorStats computes simple statistics for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
