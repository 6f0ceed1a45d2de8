package pipeline

import (
	"fmt"
	"math"
)

// Step types understood by the quantitative pipeline
const (
	StepLog1p          = "log1p"
	StepStandardScaler = "standard_scaler"
	StepMinMaxScaler   = "minmax_scaler"
	StepClip           = "clip"
)

// StepSpec is one fitted transformation over all quant columns.
// Per-column slices must have one entry per pipeline column.
type StepSpec struct {
	Type  string    `json:"type"`
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale,omitempty"`
	Min   []float64 `json:"min,omitempty"`
	Lower []float64 `json:"lower,omitempty"`
	Upper []float64 `json:"upper,omitempty"`
}

// QuantPipelineSpec is the on-disk quantitative pipeline artifact
type QuantPipelineSpec struct {
	Columns []string   `json:"columns"`
	Steps   []StepSpec `json:"steps"`
}

// QuantPipeline maps numeric columns through a fixed sequence of steps
type QuantPipeline struct {
	spec QuantPipelineSpec
}

// NewQuantPipeline validates step parameters against the column count
func NewQuantPipeline(spec QuantPipelineSpec) (*QuantPipeline, error) {
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("quant pipeline: no columns")
	}
	n := len(spec.Columns)

	for i, st := range spec.Steps {
		var params map[string][]float64
		switch st.Type {
		case StepLog1p:
		case StepStandardScaler:
			params = map[string][]float64{"mean": st.Mean, "scale": st.Scale}
		case StepMinMaxScaler:
			params = map[string][]float64{"scale": st.Scale, "min": st.Min}
		case StepClip:
			params = map[string][]float64{"lower": st.Lower, "upper": st.Upper}
		default:
			return nil, fmt.Errorf("quant pipeline: step %d: unknown type %q", i, st.Type)
		}
		for name, vals := range params {
			if len(vals) != n {
				return nil, fmt.Errorf("quant pipeline: step %d (%s): %s has %d values for %d columns",
					i, st.Type, name, len(vals), n)
			}
		}
	}

	return &QuantPipeline{spec: spec}, nil
}

// LoadQuantPipeline reads a quantitative pipeline artifact from disk
func LoadQuantPipeline(path string) (*QuantPipeline, error) {
	var spec QuantPipelineSpec
	if err := readJSON(path, &spec); err != nil {
		return nil, err
	}
	p, err := NewQuantPipeline(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Save writes the pipeline artifact as JSON
func (p *QuantPipeline) Save(path string) error {
	return writeJSON(path, p.spec)
}

// Width is the number of output features
func (p *QuantPipeline) Width() int {
	return len(p.spec.Columns)
}

// Columns returns the row fields the pipeline reads, in output order
func (p *QuantPipeline) Columns() []string {
	return append([]string(nil), p.spec.Columns...)
}

// Transform extracts the pipeline's columns from row and applies every step
func (p *QuantPipeline) Transform(row Row) ([]float64, error) {
	out := make([]float64, len(p.spec.Columns))
	for i, col := range p.spec.Columns {
		v, ok := row.Number(col)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
		out[i] = v
	}

	for _, st := range p.spec.Steps {
		for i := range out {
			out[i] = st.apply(i, out[i])
		}
	}
	return out, nil
}

func (st StepSpec) apply(i int, x float64) float64 {
	switch st.Type {
	case StepLog1p:
		return math.Log1p(x)
	case StepStandardScaler:
		scale := st.Scale[i]
		if scale == 0 {
			scale = 1
		}
		return (x - st.Mean[i]) / scale
	case StepMinMaxScaler:
		return x*st.Scale[i] + st.Min[i]
	case StepClip:
		return math.Min(math.Max(x, st.Lower[i]), st.Upper[i])
	}
	return x
}
