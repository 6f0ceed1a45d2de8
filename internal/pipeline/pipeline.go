// Package pipeline evaluates pre-fitted feature transformations exported by
// the training process. Pipelines are loaded from JSON artifacts and never
// refit at runtime.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMissingColumn is returned when a row lacks a column a pipeline reads
var ErrMissingColumn = errors.New("missing column")

// Row is a single tabular record handed to the pipelines
type Row interface {
	Text(column string) (string, bool)
	Number(column string) (float64, bool)
}

// SparseVector is a feature block with mostly zero entries.
// Indices are sorted ascending and unique.
type SparseVector struct {
	Width   int
	Indices []int
	Values  []float64
}

// Dense expands the vector to a full slice of length Width
func (v SparseVector) Dense() []float64 {
	out := make([]float64, v.Width)
	for i, idx := range v.Indices {
		out[idx] = v.Values[i]
	}
	return out
}

// NNZ is the number of stored entries
func (v SparseVector) NNZ() int {
	return len(v.Indices)
}

// Concat joins dense feature blocks along the feature axis
func Concat(blocks ...[]float64) []float64 {
	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	out := make([]float64, 0, n)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
